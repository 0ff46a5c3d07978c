package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"WearSync/internal/model"
	errs "WearSync/pkg/errors"
)

// RefreshExpirySeconds 刷新时申请的 access token 有效期
const RefreshExpirySeconds = 3600

// RefreshState 凭证刷新状态机
type RefreshState int

const (
	RefreshIdle      RefreshState = iota // 本次运行尚未刷新
	RefreshRefreshed                     // 刷新成功，终态
	RefreshFailed                        // 刷新失败或重复刷新，终态且致命
)

func (s RefreshState) String() string {
	switch s {
	case RefreshIdle:
		return "idle"
	case RefreshRefreshed:
		return "refreshed"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshGuard 单次运行内最多刷新一次凭证，不跨参与者、不跨运行共享
type RefreshGuard struct {
	mu            sync.Mutex
	participantID string
	client        TokenRefresher
	store         CredentialStore
	logger        *zap.Logger

	attempted bool
	state     RefreshState
}

func NewRefreshGuard(participantID string, client TokenRefresher, store CredentialStore, logger *zap.Logger) *RefreshGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshGuard{
		participantID: participantID,
		client:        client,
		store:         store,
		logger:        logger,
		state:         RefreshIdle,
	}
}

// Refresh 用当前凭证换取新凭证并写回存储，成功后调用方才能重跑请求。
// 第二次调用不会发起任何网络请求，直接返回 DoubleRefresh。
func (g *RefreshGuard) Refresh(ctx context.Context, current model.Credentials) (model.Credentials, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.attempted {
		g.state = RefreshFailed
		g.logger.Error("Refresh requested twice in one run",
			zap.String("participant_id", g.participantID),
		)
		return model.Credentials{}, fmt.Errorf("%w: participant %s", errs.DoubleRefresh, g.participantID)
	}
	g.attempted = true

	tok, err := g.client.RefreshToken(ctx, current.AccessToken, current.RefreshToken, RefreshExpirySeconds)
	if err != nil {
		g.state = RefreshFailed
		g.logger.Error("Token refresh rejected",
			zap.String("participant_id", g.participantID),
			zap.Error(err),
		)
		return model.Credentials{}, fmt.Errorf("%w: %w", errs.RefreshFailed, err)
	}

	creds := model.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if err := g.store.UpdateCredentials(ctx, g.participantID, creds); err != nil {
		g.state = RefreshFailed
		g.logger.Error("Failed to persist refreshed credentials",
			zap.String("participant_id", g.participantID),
			zap.Error(err),
		)
		return model.Credentials{}, fmt.Errorf("%w: %w", errs.CredentialPersistFailed, err)
	}

	g.state = RefreshRefreshed
	g.logger.Info("Credentials refreshed",
		zap.String("participant_id", g.participantID),
	)
	return creds, nil
}

func (g *RefreshGuard) State() RefreshState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *RefreshGuard) Attempted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempted
}
