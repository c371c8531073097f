package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/stephen-fox/nicbreak/leak"
	"gitlab.com/stephen-fox/nicbreak/memory"
	"gitlab.com/stephen-fox/nicbreak/pagemap"
)

// ErrTranslationRequired is returned when an expression or plan needs
// a base that has not been recovered. It is the same error a
// Translator returns before its host base is set.
var ErrTranslationRequired = pagemap.ErrTranslationRequired

// Env supplies the values an expression may refer to.
type Env struct {
	Bases leak.Bases

	// Symbols resolves "$name" terms for the current build.
	Symbols *memory.AddressTable

	// Guest resolves "@name" terms to the host-reachable address of
	// a named guest buffer.
	Guest func(name string) (uint64, error)
}

// Eval evaluates an address expression. An expression is a sequence
// of terms joined by '+' or '-'. A term is one of:
//
//	code, phys, heap   a recovered base
//	$name              a symbol offset for the current build
//	@name              the host-reachable address of a guest buffer
//	0x10, 16           a literal
//
// Arithmetic wraps modulo 2^64.
func Eval(expr string, env Env) (uint64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errors.New("empty address expression")
	}

	var result uint64
	sign := byte('+')
	start := 0

	for i := 0; i <= len(expr); i++ {
		if i < len(expr) && expr[i] != '+' && expr[i] != '-' {
			continue
		}

		value, err := evalTerm(strings.TrimSpace(expr[start:i]), env)
		if err != nil {
			return 0, fmt.Errorf("failed to evaluate %q - %w", expr, err)
		}

		if sign == '+' {
			result += value
		} else {
			result -= value
		}

		if i < len(expr) {
			sign = expr[i]
		}
		start = i + 1
	}

	return result, nil
}

func evalTerm(term string, env Env) (uint64, error) {
	switch {
	case term == "":
		return 0, errors.New("missing term")
	case term == "code":
		return base(env.Bases, leak.CodeBase)
	case term == "phys":
		return base(env.Bases, leak.PhysMemBase)
	case term == "heap":
		return base(env.Bases, leak.HeapBase)
	case strings.HasPrefix(term, "$"):
		if env.Symbols == nil {
			return 0, fmt.Errorf("no symbol table for %q", term)
		}
		return env.Symbols.Address(term[1:])
	case strings.HasPrefix(term, "@"):
		if env.Guest == nil {
			return 0, fmt.Errorf("no guest buffers for %q", term)
		}
		return env.Guest(term[1:])
	default:
		value, err := strconv.ParseUint(term, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid term %q - %w", term, err)
		}
		return value, nil
	}
}

func base(bases leak.Bases, kind leak.Kind) (uint64, error) {
	value := bases.Get(kind)
	if value == 0 {
		return 0, fmt.Errorf("%s base - %w", kind, ErrTranslationRequired)
	}
	return value, nil
}
