package face

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// DecodeImage decodes a base64 image, accepting an optional data-URL prefix
// such as "data:image/jpeg;base64,".
func DecodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrValidation)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some capture clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 image", domain.ErrValidation)
		}
	}
	return data, nil
}
