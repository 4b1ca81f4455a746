package domain

import "errors"

var (
	ErrBatchNotFound        = errors.New("batch not found")
	ErrCardNotFound         = errors.New("card not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction hash")
	ErrMissingMetadata      = errors.New("missing required statement metadata")
	ErrUnknownIssuer        = errors.New("unknown issuer")
	ErrInvalidInstallment   = errors.New("invalid installment index/total")
)
