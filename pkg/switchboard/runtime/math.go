package runtime

import (
	"errors"
	"strconv"
	"strings"
)

// Evaluation errors. Their messages are shown to users as-is.
var (
	ErrEmptyExpression    = errors.New("Expression is empty.")
	ErrInvalidCharacter   = errors.New("Invalid character in expression.")
	ErrMissingParenthesis = errors.New("Missing closing parenthesis.")
	ErrExpectedNumber     = errors.New("Expected a number.")
	ErrDivisionByZero     = errors.New("Division by zero.")
	ErrUnexpectedToken    = errors.New("Unexpected token in expression.")
)

// Evaluate computes an arithmetic expression made of decimal numbers,
// + - * /, parentheses and unary minus, with the usual precedence.
func Evaluate(input string) (float64, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return 0, err
	}

	p := &parser{tokens: tokens}
	value, err := p.expression()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.tokens) {
		return 0, ErrUnexpectedToken
	}
	return value, nil
}

// FormatNumber renders a result without exponent notation or trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func tokenize(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyExpression
	}

	var tokens []string
	for i := 0; i < len(input); {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.IndexByte("()+-*/", c) >= 0:
			tokens = append(tokens, string(c))
			i++
		case isDigit(c) || c == '.':
			end := scanNumber(input, i)
			if end == i {
				return nil, ErrInvalidCharacter
			}
			tokens = append(tokens, input[i:end])
			i = end
		default:
			return nil, ErrInvalidCharacter
		}
	}
	return tokens, nil
}

// scanNumber returns the end of the number starting at i: digits, then
// optionally a point followed by at least one digit. A lone point is not a
// number.
func scanNumber(s string, i int) int {
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	if j+1 < len(s) && s[j] == '.' && isDigit(s[j+1]) {
		j++
		for j < len(s) && isDigit(s[j]) {
			j++
		}
	}
	return j
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *parser) expression() (float64, error) {
	value, err := p.term()
	if err != nil {
		return 0, err
	}

	for op := p.peek(); op == "+" || op == "-"; op = p.peek() {
		p.pos++
		rhs, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			value += rhs
		} else {
			value -= rhs
		}
	}
	return value, nil
}

func (p *parser) term() (float64, error) {
	value, err := p.factor()
	if err != nil {
		return 0, err
	}

	for op := p.peek(); op == "*" || op == "/"; op = p.peek() {
		p.pos++
		rhs, err := p.factor()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			value *= rhs
		} else {
			if rhs == 0 {
				return 0, ErrDivisionByZero
			}
			value /= rhs
		}
	}
	return value, nil
}

func (p *parser) factor() (float64, error) {
	switch token := p.peek(); token {
	case "(":
		p.pos++
		value, err := p.expression()
		if err != nil {
			return 0, err
		}
		if p.peek() != ")" {
			return 0, ErrMissingParenthesis
		}
		p.pos++
		return value, nil

	case "-":
		p.pos++
		value, err := p.factor()
		return -value, err

	default:
		value, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, ErrExpectedNumber
		}
		p.pos++
		return value, nil
	}
}
