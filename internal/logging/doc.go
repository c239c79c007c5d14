// Package logging provides structured logging helpers for mailtriage.
//
// Loggers are plain *slog.Logger values. This package builds them from
// configuration and centralises attribute names so that the web handlers,
// the CLI and the terminal UI log the same fields the same way.
//
// Session identifiers and search keywords are hashed before they reach a log
// line:
//
//	logger.Info("search committed",
//	    logging.Owner(sessionID),
//	    logging.Keyword(keyword))
package logging
