package storage

import (
	"context"
	"errors"
	"strconv"
)

// FloatButtonKey holds whether pages should show the floating download button.
const FloatButtonKey = "mvideodk.floatButtonEnabled"

// FloatButton reads and writes the floating-control flag. It never deletes
// the key; an absent key reads as disabled.
type FloatButton struct {
	store Storage
}

func NewFloatButton(store Storage) *FloatButton {
	return &FloatButton{store: store}
}

func (f *FloatButton) Enabled(ctx context.Context) (bool, error) {
	raw, err := f.store.Get(ctx, FloatButtonKey)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

func (f *FloatButton) SetEnabled(ctx context.Context, enabled bool) error {
	return f.store.Set(ctx, FloatButtonKey, strconv.FormatBool(enabled))
}
