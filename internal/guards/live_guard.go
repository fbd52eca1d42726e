package guards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrWithdrawalPermission means the configured API credential can move
// funds off the exchange. Live trading must never run with such a key.
var ErrWithdrawalPermission = errors.New("credential carries withdrawal permission")

// CredentialInfo describes the permissions attached to an API key.
type CredentialInfo struct {
	Label       string
	CanTrade    bool
	CanWithdraw bool
}

// CredentialChecker fetches the permission set of the configured key from
// the exchange.
type CredentialChecker interface {
	FetchCredentialInfo(ctx context.Context) (CredentialInfo, error)
}

// VerifyLiveCredentials is the fail-closed startup gate for live trading.
// Any error is fatal to live startup: an unverifiable key is treated the
// same as a dangerous one. Paper sessions never call this; they hold no
// credentials.
func VerifyLiveCredentials(ctx context.Context, checker CredentialChecker) error {
	info, err := checker.FetchCredentialInfo(ctx)
	if err != nil {
		return fmt.Errorf("guards.VerifyLiveCredentials: permissions unverifiable: %w", err)
	}
	if info.CanWithdraw {
		slog.Error("guards: refusing to start live trading",
			"credential", info.Label, "reason", "withdrawal permission enabled")
		return fmt.Errorf("guards.VerifyLiveCredentials: %q: %w", info.Label, ErrWithdrawalPermission)
	}
	if !info.CanTrade {
		return fmt.Errorf("guards.VerifyLiveCredentials: %q cannot trade", info.Label)
	}
	slog.Info("guards: live credential verified", "credential", info.Label)
	return nil
}
