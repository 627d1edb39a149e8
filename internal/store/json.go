// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// PutJSON marshals v and stores it under (section, key).
func PutJSON(ctx context.Context, s Store, section, key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode document", err)
	}
	return s.Put(ctx, section, key, doc)
}

// GetJSON loads (section, key) into v. ErrNotFound passes through.
func GetJSON(ctx context.Context, s Store, section, key string, v any) error {
	doc, err := s.Get(ctx, section, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return apperr.Wrap(apperr.KindInternal, "decode document", err)
	}
	return nil
}
