package plan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"groupsync/lib/money"
	"groupsync/services/executor"
	"groupsync/services/instruct"
)

const directiveStore = "store"

const instructions = `# This is a plan of changes to the group-buy listings of one store.
#
# The format goes:
# <action> "<product id>" "<title>" <price> <origin price> [key="value"...] # <reason>
#
# Where <action> can be:
# 'keep' = Leave this listing as it is.
# 'skip' = Same as keep.
# 'update' = Rewrite this listing to the given title and prices.
# 'recreate' = Create a new listing with the given title and prices.
# 'create' = Create a new listing, the product id is "-".
# 'retire' = Take this listing offline.
#
# Optional keys: member, commodity, location, area, limit, validity, notes.
#
# When you want to apply the actions in this file, run:
#
# groupsync apply path/to/file.txt

`

type File struct {
	Store      string
	PoiID      string
	Operations []executor.Operation
}

func quote(s string) string {
	return strconv.Quote(s)
}

func formatAttrs(d instruct.Draft) string {
	var sb strings.Builder
	for _, attr := range []struct {
		key   string
		value string
	}{
		{"member", d.MemberType},
		{"commodity", d.CommodityType},
		{"location", d.Location},
		{"area", d.Area},
		{"limit", d.Limit},
		{"validity", d.Validity},
		{"notes", d.Notes},
	} {
		if attr.value == "" {
			continue
		}
		fmt.Fprintf(&sb, " %s=%s", attr.key, quote(attr.value))
	}
	return sb.String()
}

func FormatOperation(op executor.Operation) string {
	id := op.ProductID
	if id == "" {
		id = "-"
	}
	line := fmt.Sprintf("%-8s %s %s", op.Mode, quote(id), quote(op.Draft.Title))

	switch op.Mode {
	case executor.ModeRetire:
	case executor.ModeKeep, executor.ModeSkip:
		line += fmt.Sprintf(" %s %s", op.Draft.Price, op.Draft.OriginPrice)
	default:
		line += fmt.Sprintf(" %s %s", op.Draft.Price, op.Draft.OriginPrice)
		line += formatAttrs(op.Draft)
	}

	if op.Reason != "" {
		line += " # " + strings.ReplaceAll(op.Reason, "\n", " ")
	}
	return line
}

func (f File) String() string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString(fmt.Sprintf("%s %s %s\n\n", directiveStore, quote(f.Store), quote(f.PoiID)))
	for _, op := range f.Operations {
		sb.WriteString(FormatOperation(op) + "\n")
	}
	return sb.String()
}

type token struct {
	key   string
	value string
	// bare tokens are unquoted
	bare bool
}

func tokenize(line string) ([]token, string, error) {
	var tokens []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '#':
			return tokens, strings.TrimSpace(line[i+1:]), nil
		case c == '"':
			quoted, err := strconv.QuotedPrefix(line[i:])
			if err != nil {
				return nil, "", fmt.Errorf("unterminated string at column %d", i+1)
			}
			value, err := strconv.Unquote(quoted)
			if err != nil {
				return nil, "", err
			}
			tokens = append(tokens, token{value: value})
			i += len(quoted)
		default:
			j := i
			for j < len(line) {
				r, size := utf8.DecodeRuneInString(line[j:])
				if unicode.IsSpace(r) || r == '"' || r == '#' {
					break
				}
				j += size
			}
			if j == i {
				return nil, "", fmt.Errorf("unexpected character at column %d", i+1)
			}
			word := line[i:j]
			if strings.HasSuffix(word, "=") && j < len(line) && line[j] == '"' {
				quoted, err := strconv.QuotedPrefix(line[j:])
				if err != nil {
					return nil, "", fmt.Errorf("unterminated string at column %d", j+1)
				}
				value, err := strconv.Unquote(quoted)
				if err != nil {
					return nil, "", err
				}
				tokens = append(tokens, token{key: strings.TrimSuffix(word, "="), value: value})
				i = j + len(quoted)
				continue
			}
			if key, value, ok := strings.Cut(word, "="); ok && key != "" {
				tokens = append(tokens, token{key: key, value: value})
			} else {
				tokens = append(tokens, token{value: word, bare: true})
			}
			i = j
		}
	}
	return tokens, "", nil
}

func setAttr(d *instruct.Draft, key, value string) error {
	switch key {
	case "member":
		d.MemberType = value
	case "commodity":
		d.CommodityType = value
	case "location":
		d.Location = value
	case "area":
		d.Area = value
	case "limit":
		d.Limit = value
	case "validity":
		d.Validity = value
	case "notes":
		d.Notes = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func parseOperation(tokens []token, comment string) (executor.Operation, error) {
	mode, err := executor.ParseMode(tokens[0].value)
	if err != nil {
		return executor.Operation{}, err
	}
	if len(tokens) < 3 || tokens[1].bare || tokens[2].bare {
		return executor.Operation{}, fmt.Errorf("expected %s \"<product id>\" \"<title>\"", mode)
	}

	op := executor.Operation{Mode: mode, Reason: comment}
	op.ProductID = tokens[1].value
	if op.ProductID == "-" {
		op.ProductID = ""
	}
	op.Draft.Title = tokens[2].value

	var prices []money.Price
	for _, tok := range tokens[3:] {
		if tok.key != "" {
			err = setAttr(&op.Draft, tok.key, tok.value)
			if err != nil {
				return executor.Operation{}, err
			}
			continue
		}
		if !tok.bare {
			return executor.Operation{}, fmt.Errorf("unexpected string %q", tok.value)
		}
		price, err := money.ParsePrice(tok.value)
		if err == nil && !strings.ContainsAny(tok.value, "0123456789") {
			err = fmt.Errorf("not a number")
		}
		if err != nil {
			return executor.Operation{}, fmt.Errorf("invalid price %q: %w", tok.value, err)
		}
		prices = append(prices, price)
	}
	if len(prices) > 2 {
		return executor.Operation{}, fmt.Errorf("too many prices")
	}
	if len(prices) > 0 {
		op.Draft.Price = prices[0]
	}
	if len(prices) > 1 {
		op.Draft.OriginPrice = prices[1]
	}

	switch mode {
	case executor.ModeUpdate, executor.ModeCreate, executor.ModeRecreate:
		if len(prices) == 0 {
			return executor.Operation{}, fmt.Errorf("%s needs a price", mode)
		}
		origin := op.Draft.OriginPrice
		op.Draft = op.Draft.Normalize()
		// an explicit origin replaces the derived one, never below the price
		if len(prices) > 1 {
			op.Draft.OriginPrice = money.Max(origin, op.Draft.Price)
		}
	}
	switch mode {
	case executor.ModeUpdate, executor.ModeRetire:
		if op.ProductID == "" {
			return executor.Operation{}, fmt.Errorf("%s needs a product id", mode)
		}
	}
	return op, nil
}

// Parse reads a plan file. Blank lines and lines starting with # are
// ignored.
func Parse(reader io.Reader) (File, error) {
	s := bufio.NewScanner(reader)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var file File
	for i := 0; s.Scan(); i++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		tokens, comment, err := tokenize(line)
		if err != nil {
			return File{}, fmt.Errorf("%v (error: line %d)", err, i+1)
		}
		if len(tokens) == 0 {
			continue
		}

		if tokens[0].value == directiveStore {
			if len(tokens) != 3 || tokens[1].bare || tokens[2].bare {
				return File{}, fmt.Errorf("expected store \"<name>\" \"<poi id>\" (error: line %d)", i+1)
			}
			file.Store = tokens[1].value
			file.PoiID = tokens[2].value
			continue
		}

		op, err := parseOperation(tokens, comment)
		if err != nil {
			return File{}, fmt.Errorf("%v (error: line %d)", err, i+1)
		}
		file.Operations = append(file.Operations, op)
	}
	if err := s.Err(); err != nil {
		return File{}, err
	}
	return file, nil
}

func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()
	return Parse(f)
}

func Save(path string, file File) error {
	if dir := filepath.Dir(path); dir != "" {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(file.String()), 0644)
}
