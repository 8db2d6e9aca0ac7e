package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/network"
)

func encodeInt(c network.Contract, n int) (string, error) {
	if c == nil {
		return strconv.Itoa(n), nil
	}

	return c.Serialize(n)
}

func decodeInt(c network.Contract, s string) (int, error) {
	if c == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", cnerrors.ErrFormat, s)
		}
		return n, nil
	}

	v, err := c.Deserialize(s)
	if err != nil {
		return 0, err
	}

	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: contract produced %T, want int", cnerrors.ErrType, v)
	}

	return n, nil
}
