package stakerewards

import "errors"

var (
	ErrNilState              = errors.New("stakerewards: state not configured")
	ErrNilCustody            = errors.New("stakerewards: custody not configured")
	ErrInvalidAmount         = errors.New("stakerewards: invalid amount")
	ErrAmountOverflow        = errors.New("stakerewards: amount exceeds uint256")
	ErrInsufficientBalance   = errors.New("stakerewards: insufficient balance")
	ErrPeriodNotConfigured   = errors.New("stakerewards: period duration not configured")
	ErrInvalidPeriodDuration = errors.New("stakerewards: period duration must be positive")
	ErrPeriodActive          = errors.New("stakerewards: reward period still distributing")
	ErrClockRegression       = errors.New("stakerewards: timestamp precedes last update")
	ErrCompoundDisabled      = errors.New("stakerewards: compounding disabled")
	ErrCompoundAssetMismatch = errors.New("stakerewards: compounding requires identical stake and reward assets")
	ErrSettlementUnderflow   = errors.New("stakerewards: settlement underflow")
)
