package usecase

import (
	"fmt"

	"mediarec/internal/domain"
)

// assembleFragments concatenates fragments in order. Every fragment must share
// one content type; fallbackType is used only when there are no fragments.
func assembleFragments(fragments []domain.Fragment, fallbackType string) (string, []byte, error) {
	if len(fragments) == 0 {
		return fallbackType, []byte{}, nil
	}

	mimeType := fragments[0].MimeType
	total := 0
	for i, f := range fragments {
		if f.MimeType != mimeType {
			return "", nil, fmt.Errorf("%w: fragment %d is %q, expected %q", domain.ErrMixedFragmentType, i, f.MimeType, mimeType)
		}
		total += f.Size()
	}

	data := make([]byte, 0, total)
	for _, f := range fragments {
		data = append(data, f.Data...)
	}
	return mimeType, data, nil
}
