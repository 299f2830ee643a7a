// Package segment turns campaign audience rules into store queries and CEL
// expressions, and evaluates them against the customer collection.
package segment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	apperrors "crmflow/pkg/errors"
)

const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// Rule is either a group {operator, conditions} or a leaf
// {field, condition, value}. The zero Rule matches every customer.
type Rule struct {
	Operator   string      `json:"operator,omitempty" bson:"operator,omitempty"`
	Conditions []Rule      `json:"conditions,omitempty" bson:"conditions,omitempty"`
	Field      string      `json:"field,omitempty" bson:"field,omitempty"`
	Condition  string      `json:"condition,omitempty" bson:"condition,omitempty"`
	Value      interface{} `json:"value,omitempty" bson:"value,omitempty"`
}

func ParseRule(data []byte) (Rule, error) {
	var r Rule
	if len(data) == 0 || string(data) == "null" {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Rule{}, apperrors.ErrValidation.WithCause(err).WithDetail("field", "segmentRules")
	}
	return r, nil
}

func (r Rule) IsGroup() bool {
	return r.Operator != ""
}

func (r Rule) IsEmpty() bool {
	return r.Operator == "" && r.Field == ""
}

func invalid(r Rule, format string, args ...interface{}) error {
	return apperrors.ErrValidation.
		WithDetail("field", r.Field).
		WithDetail("condition", r.Condition).
		WithDetail("reason", fmt.Sprintf(format, args...))
}

// ToFilter translates r into a MongoDB filter over the customer collection.
// Relative dates are resolved against now.
func ToFilter(r Rule, now time.Time) (bson.M, error) {
	if r.IsEmpty() {
		return bson.M{}, nil
	}

	if r.IsGroup() {
		op, err := groupOperator(r, "$and", "$or")
		if err != nil {
			return nil, err
		}
		parts := make(bson.A, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			f, err := ToFilter(c, now)
			if err != nil {
				return nil, err
			}
			parts = append(parts, f)
		}
		return bson.M{op: parts}, nil
	}

	switch r.Field {
	case "totalSpend":
		v, err := floatValue(r)
		if err != nil {
			return nil, err
		}
		return numericFilter(r, v)
	case "visits":
		v, err := intValue(r)
		if err != nil {
			return nil, err
		}
		return numericFilter(r, v)
	case "lastPurchaseDate":
		date, err := dateValue(r, now)
		if err != nil {
			return nil, err
		}
		switch r.Condition {
		case "before":
			return bson.M{r.Field: bson.M{"$lt": date}}, nil
		case "after":
			return bson.M{r.Field: bson.M{"$gt": date}}, nil
		case "on":
			return bson.M{r.Field: bson.M{"$gte": date, "$lt": date.AddDate(0, 0, 1)}}, nil
		}
		return nil, invalid(r, "unsupported date condition")
	case "inactive":
		cutoff, err := inactiveCutoff(r, now)
		if err != nil {
			return nil, err
		}
		return bson.M{"$or": bson.A{
			bson.M{"lastPurchaseDate": bson.M{"$lt": cutoff}},
			bson.M{"lastPurchaseDate": bson.M{"$exists": false}},
		}}, nil
	case "tags":
		tag, err := stringValue(r)
		if err != nil {
			return nil, err
		}
		switch r.Condition {
		case "contains":
			return bson.M{"tags": bson.M{"$in": bson.A{tag}}}, nil
		case "not_contains":
			return bson.M{"tags": bson.M{"$nin": bson.A{tag}}}, nil
		}
		return nil, invalid(r, "unsupported tag condition")
	}
	return nil, invalid(r, "unsupported field")
}

func numericFilter(r Rule, v interface{}) (bson.M, error) {
	switch r.Condition {
	case ">":
		return bson.M{r.Field: bson.M{"$gt": v}}, nil
	case ">=":
		return bson.M{r.Field: bson.M{"$gte": v}}, nil
	case "<":
		return bson.M{r.Field: bson.M{"$lt": v}}, nil
	case "<=":
		return bson.M{r.Field: bson.M{"$lte": v}}, nil
	case "=":
		return bson.M{r.Field: v}, nil
	case "!=":
		return bson.M{r.Field: bson.M{"$ne": v}}, nil
	}
	return nil, invalid(r, "unsupported numeric condition")
}

// ToExpression translates r into a CEL expression over the customer
// variables declared by pkg/cel.
func ToExpression(r Rule, now time.Time) (string, error) {
	if r.IsEmpty() {
		return "true", nil
	}

	if r.IsGroup() {
		op, err := groupOperator(r, " && ", " || ")
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			expr, err := ToExpression(c, now)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+expr+")")
		}
		return strings.Join(parts, op), nil
	}

	switch r.Field {
	case "totalSpend":
		v, err := floatValue(r)
		if err != nil {
			return "", err
		}
		return numericExpression(r, strconv.FormatFloat(v, 'f', -1, 64)+floatSuffix(v))
	case "visits":
		v, err := intValue(r)
		if err != nil {
			return "", err
		}
		return numericExpression(r, strconv.Itoa(v))
	case "lastPurchaseDate":
		date, err := dateValue(r, now)
		if err != nil {
			return "", err
		}
		switch r.Condition {
		case "before":
			return fmt.Sprintf("hasPurchased && lastPurchaseDate < %s", timestamp(date)), nil
		case "after":
			return fmt.Sprintf("hasPurchased && lastPurchaseDate > %s", timestamp(date)), nil
		case "on":
			return fmt.Sprintf("hasPurchased && lastPurchaseDate >= %s && lastPurchaseDate < %s",
				timestamp(date), timestamp(date.AddDate(0, 0, 1))), nil
		}
		return "", invalid(r, "unsupported date condition")
	case "inactive":
		cutoff, err := inactiveCutoff(r, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("!hasPurchased || lastPurchaseDate < %s", timestamp(cutoff)), nil
	case "tags":
		tag, err := stringValue(r)
		if err != nil {
			return "", err
		}
		switch r.Condition {
		case "contains":
			return fmt.Sprintf("%s in tags", strconv.Quote(tag)), nil
		case "not_contains":
			return fmt.Sprintf("!(%s in tags)", strconv.Quote(tag)), nil
		}
		return "", invalid(r, "unsupported tag condition")
	}
	return "", invalid(r, "unsupported field")
}

func numericExpression(r Rule, literal string) (string, error) {
	var op string
	switch r.Condition {
	case ">", ">=", "<", "<=", "!=":
		op = r.Condition
	case "=":
		op = "=="
	default:
		return "", invalid(r, "unsupported numeric condition")
	}
	return fmt.Sprintf("%s %s %s", r.Field, op, literal), nil
}

func floatSuffix(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return ".0"
	}
	return ""
}

func timestamp(t time.Time) string {
	return fmt.Sprintf("timestamp(%q)", t.UTC().Format(time.RFC3339Nano))
}

func groupOperator(r Rule, and, or string) (string, error) {
	if len(r.Conditions) == 0 {
		return "", apperrors.ErrValidation.WithDetail("reason", "rule group has no conditions")
	}
	switch strings.ToUpper(r.Operator) {
	case OperatorAnd:
		return and, nil
	case OperatorOr:
		return or, nil
	}
	return "", apperrors.ErrValidation.WithDetail("reason", fmt.Sprintf("unknown operator %q", r.Operator))
}

func floatValue(r Rule) (float64, error) {
	switch v := r.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		fields := strings.Fields(v)
		if len(fields) == 0 {
			return 0, invalid(r, "value is empty")
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, invalid(r, "value %q is not a number", v)
		}
		return f, nil
	}
	return 0, invalid(r, "value must be a number")
}

func intValue(r Rule) (int, error) {
	f, err := floatValue(r)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func stringValue(r Rule) (string, error) {
	s, ok := r.Value.(string)
	if !ok || s == "" {
		return "", invalid(r, "value must be a non-empty string")
	}
	return s, nil
}

// dateValue accepts "N days ago", RFC 3339 timestamps and plain dates.
func dateValue(r Rule, now time.Time) (time.Time, error) {
	s, ok := r.Value.(string)
	if !ok {
		if t, ok := r.Value.(time.Time); ok {
			return t, nil
		}
		return time.Time{}, invalid(r, "value must be a date")
	}
	s = strings.TrimSpace(s)

	if strings.HasSuffix(s, "days ago") {
		days, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(s, "days ago")))
		if err != nil {
			return time.Time{}, invalid(r, "value %q is not a relative date", s)
		}
		return now.AddDate(0, 0, -days), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid(r, "value %q is not a date", s)
}

func inactiveCutoff(r Rule, now time.Time) (time.Time, error) {
	if r.Condition != "for" {
		return time.Time{}, invalid(r, "unsupported inactivity condition")
	}
	days, err := intValue(r)
	if err != nil {
		return time.Time{}, err
	}
	return now.AddDate(0, 0, -days), nil
}
