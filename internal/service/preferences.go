package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/kv"
)

const (
	PrefFireSealAutoDeploy = "fire_seal_auto_deploy"
	PrefSummonsEmailCopy   = "summons_email_copy"
)

// preferenceDefaults lists every toggle a user may set, with its value when unset.
var preferenceDefaults = map[string]bool{
	PrefFireSealAutoDeploy: true,
	PrefSummonsEmailCopy:   false,
}

type PreferenceService struct {
	store kv.Store
}

func NewPreferenceService(store kv.Store) *PreferenceService {
	return &PreferenceService{store: store}
}

func (s *PreferenceService) Get(ctx context.Context, userID, key string) (bool, error) {
	def, ok := preferenceDefaults[key]
	if !ok {
		return false, apperrors.InvalidInput("preference", fmt.Sprintf("unknown key %q", key))
	}

	raw, err := s.store.Get(ctx, preferenceKey(userID, key))
	if errors.Is(err, kv.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return false, apperrors.External("preference store", err)
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def, nil
	}
	return val, nil
}

func (s *PreferenceService) Set(ctx context.Context, userID, key string, value bool) error {
	if _, ok := preferenceDefaults[key]; !ok {
		return apperrors.InvalidInput("preference", fmt.Sprintf("unknown key %q", key))
	}

	if err := s.store.Set(ctx, preferenceKey(userID, key), strconv.FormatBool(value), 0); err != nil {
		return apperrors.External("preference store", err)
	}
	return nil
}

func (s *PreferenceService) All(ctx context.Context, userID string) (map[string]bool, error) {
	keys := make([]string, 0, len(preferenceDefaults))
	for key := range preferenceDefaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	prefs := make(map[string]bool, len(keys))
	for _, key := range keys {
		val, err := s.Get(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		prefs[key] = val
	}
	return prefs, nil
}

func preferenceKey(userID, key string) string {
	return fmt.Sprintf("prefs:%s:%s", userID, key)
}
