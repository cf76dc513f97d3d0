// Package errors re-exports github.com/cockroachdb/errors for the rest of
// wis2watch: stack-traced wrapping, hints for operators, and an Is/As that
// stays compatible with the standard library's error chains. Grounded on
// teranos-QNTX/errors/errors.go, which wraps the same library the same
// way for the same reason — one error type across every package instead
// of each one picking stdlib errors or fmt.Errorf ad hoc.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint   = crdb.WithHint
	WithHintf  = crdb.WithHintf
	WithDetail = crdb.WithDetail
)

var (
	Is     = crdb.Is
	As     = crdb.As
	Unwrap = crdb.Unwrap
)
