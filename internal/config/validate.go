package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tyler-smith/go-bip39"

	"github.com/roach88/chainharness/internal/fault"
)

// accountSchema constrains the shape of an account entry. The address
// pattern is the c32 alphabet (no I, L, O, U) behind an "S" and a
// network/version character.
const accountSchema = `
#Account: {
	name:       =~"^[A-Za-z][A-Za-z0-9_-]*$"
	address:    =~"^S[PMTN][0-9A-HJKMNP-TV-Z]{28,40}$"
	balance:    int & >=0 & <=9223372036854775807
	mnemonic:   string & !=""
	derivation: =~"^m(/[0-9]+['hH]?)+$"
}

#Address: =~"^S[PMTN][0-9A-HJKMNP-TV-Z]{28,40}$"
`

// hardenedOffset marks a hardened BIP32 path component.
const hardenedOffset uint32 = 0x80000000

// validator holds the compiled schema. cue values are not safe for
// concurrent use, so every evaluation happens under mu.
type validator struct {
	mu      sync.Mutex
	account cue.Value
	address cue.Value
	err     error
}

var (
	schemaOnce sync.Once
	schema     *validator
)

func loadSchema() *validator {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(accountSchema, cue.Filename("account.cue"))
		schema = &validator{
			account: v.LookupPath(cue.ParsePath("#Account")),
			address: v.LookupPath(cue.ParsePath("#Address")),
			err:     v.Err(),
		}
	})
	return schema
}

func (s *validator) check(def cue.Value, x any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return fmt.Errorf("account schema: %w", s.err)
	}
	v := def.Unify(def.Context().Encode(x))
	return v.Validate(cue.Concrete(true))
}

// ValidateAddress checks that addr looks like a chain principal address.
// Failures are ArgumentErrors because addresses usually arrive through
// host calls.
func ValidateAddress(addr string) error {
	s := loadSchema()
	if err := s.check(s.address, addr); err != nil {
		return fault.Argument(err, "malformed address %q", addr)
	}
	return nil
}

// ValidateAccount checks every field of an account entry. Failures are
// ConfigErrors naming the account.
func ValidateAccount(name string, a AccountConfig) error {
	s := loadSchema()
	err := s.check(s.account, map[string]any{
		"name":       name,
		"address":    a.Address,
		"balance":    a.Balance,
		"mnemonic":   a.Mnemonic,
		"derivation": a.Derivation,
	})
	if err != nil {
		return fault.Config(err, "account %q", name)
	}

	if !bip39.IsMnemonicValid(a.Mnemonic) {
		return fault.Config(nil, "account %q: mnemonic is not a valid BIP39 phrase", name)
	}

	if _, err := ParseDerivationPath(a.Derivation); err != nil {
		return fault.Config(err, "account %q: derivation path", name)
	}

	return nil
}

// ParseDerivationPath parses a BIP32 path such as m/44'/5757'/0'/0/0
// into child indexes, hardened components offset by 2^31.
func ParseDerivationPath(path string) ([]uint32, error) {
	rest, ok := strings.CutPrefix(path, "m/")
	if !ok {
		return nil, fmt.Errorf("path %q must start with m/", path)
	}

	parts := strings.Split(rest, "/")
	indexes := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H")
		digits := strings.TrimRight(part, "'hH")

		n, err := strconv.ParseUint(digits, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid component %q: %w", part, err)
		}
		if uint32(n) >= hardenedOffset {
			return nil, fmt.Errorf("component %q out of range", part)
		}

		idx := uint32(n)
		if hardened {
			idx += hardenedOffset
		}
		indexes = append(indexes, idx)
	}

	return indexes, nil
}
