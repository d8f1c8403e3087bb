/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package events delivers issue change notifications.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

type Emitter interface {
	Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error
}

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	log zerolog.Logger
}

func NewLogEmitter(log zerolog.Logger) *LogEmitter { return &LogEmitter{log: log} }

func (e *LogEmitter) Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error {
	e.log.Info().Str("tenant", tenant).Str("event", string(t)).Interface("key", payload["key"]).Msg("issue event")
	return nil
}

// Fanout delivers to every sink and succeeds only when all of them do.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error {
	var errs []error
	for i, e := range f {
		if err := e.Emit(ctx, tenant, t, payload); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
