package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/store"
)

// Query parameter parsers shared by the list endpoints. Every parser
// treats an absent parameter as nil/zero and a malformed one as an
// error.

func queryTime(values url.Values, name string) (*time.Time, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid RFC3339 timestamp", name)
	}
	return &t, nil
}

func queryBool(values url.Values, name string) (*bool, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false", name)
	}
	return &b, nil
}

func queryInt(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func queryUUID(values url.Values, name string) (*uuid.UUID, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid uuid", name)
	}
	return &id, nil
}

func queryUUIDList(values url.Values, name string) ([]uuid.UUID, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%s must be a comma-separated list of uuids", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func queryOrder(values url.Values, name string) (store.SortOrder, error) {
	switch raw := values.Get(name); raw {
	case "", string(store.OrderDesc):
		return store.OrderDesc, nil
	case string(store.OrderAsc):
		return store.OrderAsc, nil
	default:
		return "", fmt.Errorf("%s must be asc or desc", name)
	}
}
