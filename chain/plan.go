package chain

import (
	"fmt"

	"github.com/apex/log"

	"gitlab.com/stephen-fox/nicbreak/memory"
)

// Shape names the layout of a slot.
type Shape string

const (
	HandlerShape    Shape = "handler"
	ObjectPairShape Shape = "objects"
)

// Plan describes a chain as data. All addresses are expressions,
// see Eval.
type Plan struct {
	// BaseWord is the word of the buffer that corresponds to Anchor.
	BaseWord int    `toml:"base_word"`
	Anchor   string `toml:"anchor"`

	// Trailer is the address whose low 32 bits the frame check
	// sequence must encode.
	Trailer string `toml:"trailer"`

	Spray *SprayPlan `toml:"spray"`
	Slots []Slot     `toml:"slots"`
}

// SprayPlan describes a Builder.Spray call.
type SprayPlan struct {
	From    int    `toml:"from"`
	To      int    `toml:"to"`
	Marker  string `toml:"marker"`
	Pointer string `toml:"pointer"`
}

// Slot describes one slot write. Handler, Arg0 and Arg1 are used by
// handler slots, Objects by object pairs.
type Slot struct {
	Name    string    `toml:"name"`
	Shape   Shape     `toml:"shape"`
	At      string    `toml:"at"`
	Handler string    `toml:"handler"`
	Arg0    string    `toml:"arg0"`
	Arg1    string    `toml:"arg1"`
	Objects [2]string `toml:"objects"`
}

// Validate checks the plan for structural errors.
func (o Plan) Validate() error {
	if o.BaseWord < 0 {
		return fmt.Errorf("base word cannot be negative")
	}

	if o.Anchor == "" {
		return fmt.Errorf("anchor is required")
	}

	for i, slot := range o.Slots {
		switch slot.Shape {
		case HandlerShape:
			if slot.Handler == "" || slot.Arg0 == "" || slot.Arg1 == "" {
				return fmt.Errorf("handler slot %d (%q) requires handler, arg0 and arg1", i, slot.Name)
			}
		case ObjectPairShape:
			if slot.Objects[0] == "" || slot.Objects[1] == "" {
				return fmt.Errorf("object pair slot %d (%q) requires two objects", i, slot.Name)
			}
		default:
			return fmt.Errorf("slot %d (%q) has unknown shape %q", i, slot.Name, slot.Shape)
		}

		if slot.At == "" {
			return fmt.Errorf("slot %d (%q) requires an address", i, slot.Name)
		}
	}

	return nil
}

// Apply writes the plan into buf. Every base must be known beforehand.
// Slots are written in order, so a later slot overwrites an earlier
// one that shares words with it.
func (o Plan) Apply(buf []byte, env Env, pm memory.PointerMaker) error {
	if !env.Bases.Complete() {
		return fmt.Errorf("cannot build chain with bases %+v - %w", env.Bases, ErrTranslationRequired)
	}

	err := o.Validate()
	if err != nil {
		return err
	}

	anchor, err := Eval(o.Anchor, env)
	if err != nil {
		return err
	}

	b := NewBuilder(buf, o.BaseWord*pm.Size(), anchor, pm)

	if o.Spray != nil {
		marker, err := Eval(o.Spray.Marker, env)
		if err != nil {
			return err
		}

		pointer, err := Eval(o.Spray.Pointer, env)
		if err != nil {
			return err
		}

		err = b.Spray(o.Spray.From, o.Spray.To, marker, pointer)
		if err != nil {
			return fmt.Errorf("failed to spray - %w", err)
		}
	}

	for i, slot := range o.Slots {
		err := o.applySlot(b, slot, env)
		if err != nil {
			return fmt.Errorf("failed to write slot %d (%q) - %w", i, slot.Name, err)
		}
	}

	return nil
}

func (o Plan) applySlot(b *Builder, slot Slot, env Env) error {
	var exprs []string
	switch slot.Shape {
	case HandlerShape:
		exprs = []string{slot.At, slot.Handler, slot.Arg0, slot.Arg1}
	case ObjectPairShape:
		exprs = []string{slot.At, slot.Objects[0], slot.Objects[1]}
	}

	values := make([]uint64, len(exprs))
	for i, expr := range exprs {
		value, err := Eval(expr, env)
		if err != nil {
			return err
		}
		values[i] = value
	}

	log.WithFields(log.Fields{
		"slot":  slot.Name,
		"shape": string(slot.Shape),
		"words": fmt.Sprintf("%#x", values[1:]),
	}).Debugf("writing slot at 0x%x", values[0])

	if slot.Shape == HandlerShape {
		return b.Handler(values[0], values[1], values[2], values[3])
	}

	return b.ObjectPair(values[0], values[1], values[2])
}
