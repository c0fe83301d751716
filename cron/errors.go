package cron

import "errors"

// ErrInvalidExpression is returned by Parse when an expression is malformed.
// Use errors.Is(err, ErrInvalidExpression) to check; the returned error
// carries the offending expression and the parser's diagnostic.
var ErrInvalidExpression = errors.New("cron: invalid expression")

// ErrUnsupportedForm is returned by Parse for expressions that are valid for
// robfig/cron but outside the 5-field grammar this package accepts, such as
// "@daily", "@every 5m", or a "CRON_TZ=" prefix.
var ErrUnsupportedForm = errors.New("cron: unsupported expression form")
