package directory

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// CanonicalJSON сериализует декодированный JSON-объект в каноническую форму:
// ключи объектов отсортированы, пробелов нет, числа приведены к минимальной
// десятичной записи (1.0 и 1 совпадают, 1e2 и 100 совпадают). Две карты
// эквивалентны тогда и только тогда, когда их канонические формы побайтово
// равны.
func CanonicalJSON(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Equal сравнивает два payload по канонической форме. Ошибка сериализации
// (нестандартный тип значения) трактуется как неравенство: запись обновится
// и зеркало придёт к представимому виду.
func Equal(a, b map[string]any) bool {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case json.Number:
		n, err := normalizeNumber(string(t))
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case float64:
		n, err := normalizeNumber(strconv.FormatFloat(t, 'g', -1, 64))
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return errors.Errorf("canonical json: unsupported value type %T", v)
	}
	return nil
}

// normalizeNumber приводит десятичную запись числа к минимальной форме:
// без незначащих нулей, без знака у нуля, экспонента только там, где без
// неё запись была бы длиннее разумного (|порядок| > 21 знака).
func normalizeNumber(s string) (string, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")

	mant := s
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant = s[:i]
		e, err := strconv.Atoi(strings.TrimPrefix(s[i+1:], "+"))
		if err != nil {
			return "", errors.Wrapf(err, "canonical json: bad number %q", s)
		}
		exp = e
	}
	intPart, fracPart, _ := strings.Cut(mant, ".")
	if intPart == "" && fracPart == "" {
		return "", errors.Errorf("canonical json: bad number %q", s)
	}
	digits := intPart + fracPart
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", errors.Errorf("canonical json: bad number %q", s)
		}
	}
	exp -= len(fracPart)
	digits = strings.TrimLeft(digits, "0")
	for strings.HasSuffix(digits, "0") {
		digits = digits[:len(digits)-1]
		exp++
	}
	if digits == "" {
		return "0", nil
	}

	var out string
	n := len(digits)
	switch {
	case exp >= 0 && exp+n <= 21:
		out = digits + strings.Repeat("0", exp)
	case exp < 0 && -exp < n:
		out = digits[:n+exp] + "." + digits[n+exp:]
	case exp < 0 && -exp >= n && -exp-n <= 21:
		out = "0." + strings.Repeat("0", -exp-n) + digits
	default:
		// Слишком большой порядок: научная запись d.dddeN.
		adj := exp + n - 1
		if n == 1 {
			out = digits + "e" + strconv.Itoa(adj)
		} else {
			out = digits[:1] + "." + digits[1:] + "e" + strconv.Itoa(adj)
		}
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}
