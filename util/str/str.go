package str

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Hashcode 计算字符串的hashcode, same as java.lang.String#hashCode
func Hashcode(s string) int32 {
	var hash int32 = 0
	for _, c := range s {
		hash = c + ((hash << 5) - hash)
	}
	return hash
}

// HashMode 计算字符串的hashcode后取余, always non-negative
func HashMode(s string, num int32) int {
	m := int(Hashcode(s) % num)
	if m < 0 {
		m = -m
	}
	return m
}

// ConvertStrToStruct 字符串转对象
func ConvertStrToStruct(str string, v any) error {
	if err := json.Unmarshal([]byte(str), v); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	return nil
}

// ConvertStrToStructStrict 字符串转对象, rejects fields v does not declare
func ConvertStrToStructStrict(str string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(str)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	return nil
}
