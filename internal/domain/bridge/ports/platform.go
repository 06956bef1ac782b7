// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"

	"github.com/ManuGH/pstnbridge/internal/vonage"
)

// CallPlatform is the telephony platform the bridge drives.
// *vonage.Client implements it; tests substitute a fake.
type CallPlatform interface {
	CreateCall(ctx context.Context, req vonage.CreateCallRequest) (vonage.CallResponse, error)
	GetCall(ctx context.Context, uuid string) (vonage.CallInfo, error)
	Hangup(ctx context.Context, uuid string) error
	// Transfer replaces the running call control document of a connected leg.
	Transfer(ctx context.Context, uuid string, ncco any) error
}

var _ CallPlatform = (*vonage.Client)(nil)
