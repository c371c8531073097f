// Package bstruct encodes fixed-layout structs, such as DMA descriptors
// and initialization blocks, into the byte images a device reads.
//
// Fields are encoded in declaration order with no padding. Supported
// field types are uint8, uint16, uint32, uint64, byte arrays and types
// that implement Byter. Every field must be exported.
package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/apex/log"
)

var (
	DefaultExitFn = func(err error) {
		log.Fatal(err.Error())
	}
)

// Byter encodes itself.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes one encoded field.
type FieldInfo struct {
	Index int
	Name  string
	Type  string
	Value []byte
}

// LogFields returns an optFn for StructToBytes that logs each field
// at debug level.
func LogFields(what string) func(FieldInfo) error {
	return func(info FieldInfo) error {
		log.WithFields(log.Fields{
			"field": info.Name,
			"value": fmt.Sprintf("%x", info.Value),
		}).Debugf("%s: encoded field %d", what, info.Index)
		return nil
	}
}

func StructToBytesOrExit(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) []byte {
	b, err := StructToBytes(s, bo, optFn)
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}

// StructToBytes encodes the struct s, or the struct s points to.
// optFn, if non-nil, is called after each field is encoded.
func StructToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	structValue := reflect.ValueOf(s)
	if structValue.Kind() == reflect.Pointer {
		if structValue.IsNil() {
			return nil, errors.New("struct pointer is nil")
		}
		structValue = structValue.Elem()
	}

	if structValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%T is not a struct", s)
	}

	structType := structValue.Type()

	var b []byte

	for i := 0; i < structValue.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			return nil, fmt.Errorf("field %q (index %d) is not exported", field.Name, i)
		}

		fieldValue := structValue.Field(i)

		at := len(b)

		switch t := fieldValue.Interface().(type) {
		case Byter:
			b = append(b, t.ToBytes(bo)...)
		case uint8:
			b = append(b, t)
		case uint16:
			b = append(b, make([]byte, 2)...)
			bo.PutUint16(b[len(b)-2:], t)
		case uint32:
			b = append(b, make([]byte, 4)...)
			bo.PutUint32(b[len(b)-4:], t)
		case uint64:
			b = append(b, make([]byte, 8)...)
			bo.PutUint64(b[len(b)-8:], t)
		default:
			if fieldValue.Kind() != reflect.Array || fieldValue.Type().Elem().Kind() != reflect.Uint8 {
				return nil, fmt.Errorf("unsupported data type %T for field %q (index %d)",
					t, field.Name, i)
			}

			for j := 0; j < fieldValue.Len(); j++ {
				b = append(b, uint8(fieldValue.Index(j).Uint()))
			}
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index: i,
				Name:  field.Name,
				Type:  field.Type.String(),
				Value: b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

// PutStruct encodes s into the start of dst. The encoding must fit.
func PutStruct(dst []byte, s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) error {
	b, err := StructToBytes(s, bo, optFn)
	if err != nil {
		return err
	}

	if len(b) > len(dst) {
		return fmt.Errorf("encoded %T is %d bytes but only %d bytes are available",
			s, len(b), len(dst))
	}

	copy(dst, b)

	return nil
}
