package models

import "errors"

var (
	ErrStartup           = errors.New("balance monitor start failed")
	ErrSubscription      = errors.New("block subscription failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
	ErrBlockProcessing   = errors.New("block processing failed")
	ErrNotConnected      = errors.New("not connected to node")

	ErrBalanceQuery = errors.New("balance query failed")
	ErrGasPrice     = errors.New("gas price query failed")
	ErrPolicy       = errors.New("policy evaluation failed")

	ErrMissingRawTransaction = errors.New("signing produced no raw transaction")
	ErrBroadcast             = errors.New("transaction broadcast failed")
	ErrTransactionReverted   = errors.New("transaction reverted")
	ErrConfirmTimeout        = errors.New("transaction not confirmed in time")

	ErrNonPositiveAmount = errors.New("transfer amount must be positive")
	ErrInvalidRange      = errors.New("invalid threshold range")
)
