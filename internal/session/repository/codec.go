package repository

import (
	"encoding/json"

	"github.com/alanmathew190/EventManagementSystem/internal/security"
	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
)

func encode(s *domain.Session, sealer *security.Sealer) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if sealer == nil {
		return b, nil
	}
	return sealer.Seal(b)
}

func decode(b []byte, sealer *security.Sealer) (*domain.Session, error) {
	if security.IsSealed(b) {
		if sealer == nil {
			return nil, ErrSealed
		}
		plain, err := sealer.Open(b)
		if err != nil {
			return nil, ErrSealed
		}
		b = plain
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, ErrCorrupt
	}
	if !s.Valid() {
		return nil, ErrCorrupt
	}
	return &s, nil
}
