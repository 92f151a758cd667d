package assemble

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// statement renders one call as a guarded statement, wrapped in a loop
// when the call repeats.
func (a *Assembler) statement(c *ir.CallInstance) (string, error) {
	expr, err := a.expression(c)
	if err != nil {
		return "", err
	}
	if c.Repeat > 0 {
		return fmt.Sprintf("try{for (var i = 0; i < %d; i++) {%s}} catch(e){};", c.Repeat, expr), nil
	}
	return "try{" + expr + "} catch(e){};", nil
}

// expression renders the unguarded call.
func (a *Assembler) expression(c *ir.CallInstance) (string, error) {
	fail := func(format string, args ...any) error {
		return &AssemblyError{Index: c.Index, API: c.API, Message: fmt.Sprintf(format, args...)}
	}
	api, ok := a.specs.API(c.API)
	if !ok {
		return "", fail("unknown api")
	}
	if c.Receiver == "" {
		return "", fail("no receiver")
	}
	target := c.Receiver + "." + api.Member

	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		s, err := a.value(arg.Value)
		if err != nil {
			return "", fail("argument %s: %v", arg.Param, err)
		}
		args[i] = s
	}

	var sb strings.Builder
	switch api.Kind {
	case ir.APIProperty:
		if len(c.Args) > 1 {
			return "", fail("property takes one value, got %d", len(c.Args))
		}
		if len(c.Args) == 0 {
			sb.WriteString(target + ";")
		} else {
			sb.WriteString(target + " = " + args[0] + ";")
		}
		if c.Bind != "" {
			fmt.Fprintf(&sb, " var %s; %s = %s;", c.Bind, c.Bind, target)
		}
	case ir.APIMethod, "":
		call := target + "(" + joinArgs(c.Args, args) + ")"
		if c.Bind != "" {
			fmt.Fprintf(&sb, "var %s; %s = %s;", c.Bind, c.Bind, call)
		} else {
			sb.WriteString(call + ";")
		}
	default:
		return "", fail("unknown api kind %q", api.Kind)
	}
	return sb.String(), nil
}

// joinArgs passes a lone positional argument directly and everything else
// as an object literal of named members.
func joinArgs(params []ir.Arg, rendered []string) string {
	switch {
	case len(params) == 0:
		return ""
	case len(params) == 1 && params[0].Param == ir.PositionalParam:
		return rendered[0]
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Param + ": " + rendered[i]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// value renders one argument value as script source.
func (a *Assembler) value(v ir.Value) (string, error) {
	switch x := v.(type) {
	case ir.String:
		return quote(string(x))
	case ir.Int:
		return strconv.FormatInt(int64(x), 10), nil
	case ir.Bool:
		return strconv.FormatBool(bool(x)), nil
	case ir.IntSet:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case ir.Raw:
		return string(x), nil
	case ir.Ref:
		if x == "" {
			return "", fmt.Errorf("empty instance reference")
		}
		return string(x), nil
	case ir.Script:
		body := make([]string, 0, len(x))
		for i := range x {
			stmt, err := a.statement(&x[i])
			if err != nil {
				return "", err
			}
			body = append(body, stmt)
		}
		return quote(strings.Join(body, " "))
	case nil:
		return "", fmt.Errorf("missing value")
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

// quote renders s as a double-quoted script string literal.
func quote(s string) (string, error) {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
