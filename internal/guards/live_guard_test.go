package guards_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alejandrodnm/perpbot/internal/guards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	info guards.CredentialInfo
	err  error
}

func (c stubChecker) FetchCredentialInfo(context.Context) (guards.CredentialInfo, error) {
	return c.info, c.err
}

func TestVerifyLiveCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("trade-only key passes", func(t *testing.T) {
		err := guards.VerifyLiveCredentials(ctx, stubChecker{
			info: guards.CredentialInfo{Label: "bot-key", CanTrade: true},
		})
		assert.NoError(t, err)
	})

	t.Run("withdrawal permission is fatal", func(t *testing.T) {
		err := guards.VerifyLiveCredentials(ctx, stubChecker{
			info: guards.CredentialInfo{Label: "bot-key", CanTrade: true, CanWithdraw: true},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, guards.ErrWithdrawalPermission)
	})

	t.Run("unverifiable key is fatal", func(t *testing.T) {
		err := guards.VerifyLiveCredentials(ctx, stubChecker{
			err: fmt.Errorf("exchange timeout"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unverifiable")
	})

	t.Run("key without trade permission is rejected", func(t *testing.T) {
		err := guards.VerifyLiveCredentials(ctx, stubChecker{
			info: guards.CredentialInfo{Label: "readonly"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot trade")
	})
}
