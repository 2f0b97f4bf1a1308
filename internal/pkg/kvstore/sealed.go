package kvstore

import "context"

// Sealer encrypts values bound to additional data; *secretbox.Box satisfies it.
type Sealer interface {
	Seal(plaintext, additional string) (string, error)
	Open(encoded, additional string) (string, error)
}

// Sealed encrypts every value written to inner, binding it to its key so a
// ciphertext copied under another key does not open. Values that do not open
// read as absent.
func Sealed(inner Store, box Sealer) Store {
	return &sealed{inner: inner, box: box}
}

type sealed struct {
	inner Store
	box   Sealer
}

func (s *sealed) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	plain, err := s.box.Open(raw, key)
	if err != nil {
		return "", false, nil
	}
	return plain, true, nil
}

func (s *sealed) Set(ctx context.Context, key, value string) error {
	enc, err := s.box.Seal(value, key)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, enc)
}

func (s *sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *sealed) Subscribe(ctx context.Context) (<-chan Change, func()) {
	return s.inner.Subscribe(ctx)
}
