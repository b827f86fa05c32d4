package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Decimal is an exact base-10 number held as its shortest round-trip
// string. It marshals to a DynamoDB N attribute and to a bare JSON number.
type Decimal string

// NewDecimal converts f. NaN and infinities have no decimal form.
func NewDecimal(f float64) (Decimal, error) {
	return formatDecimal(f, 64)
}

func formatDecimal(f float64, bitSize int) (Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot store %v as a decimal", f)
	}
	return Decimal(strconv.FormatFloat(f, 'f', -1, bitSize)), nil
}

// numberDecimal keeps integer literals digit for digit, so values beyond
// 2^53 survive. Fractions and exponents take the float path.
func numberDecimal(n json.Number) (Decimal, error) {
	s := n.String()
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Decimal(s), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("cannot store %q as a decimal: %w", s, err)
	}
	return NewDecimal(f)
}

// Float64 converts back for display.
func (d Decimal) Float64() (float64, error) {
	return strconv.ParseFloat(string(d), 64)
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler.
func (d Decimal) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: string(d)}, nil
}

// MarshalJSON writes the number unquoted.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d), nil
}

// Decimalize walks maps and slices, replacing every float or json.Number
// with a Decimal.
// Other values pass through unchanged.
func Decimalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			conv, err := Decimalize(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			conv, err := Decimalize(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case json.Number:
		return numberDecimal(t)
	case float64:
		return NewDecimal(t)
	case float32:
		return formatDecimal(float64(t), 32)
	default:
		return v, nil
	}
}
