package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"guardianpath/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

var (
	idKeys        = []string{"id", "event_id", "log_id", "logid"}
	timestampKeys = []string{"timestamp", "time", "ts", "login_time", "logintime"}
	identityKeys  = []string{"identity_id", "identity", "staff_id", "staffid", "staff", "user_id", "user"}
	badgeKeys     = []string{"badge", "badge_id", "badgeid", "card", "card_id", "uid"}
	locationKeys  = []string{"location_id", "locationid", "location", "door", "reader", "reader_id", "zone"}
	deviceKeys    = []string{"device_id", "deviceid", "device", "terminal"}
	addressKeys   = []string{"ip_address", "ipaddress", "ip", "source_address", "addr"}
)

// Parser turns one log line into event fields. JSON, CSV (with or without a
// header) and key=value text are recognized.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !reKV.MatchString(trim) {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	assignKnown(fields, kv)
	for k, v := range kv {
		fields.Extras[k] = v
	}
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}

	if fields.Location == "" && rest != "" {
		if tokens := strings.Fields(rest); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.Location = tokens[0]
		}
	}
	return fields
}

func assignKnown(fields *normalize.EventFields, m map[string]string) {
	fields.ID = firstNonEmpty(m, idKeys...)
	fields.Timestamp = firstNonEmpty(m, timestampKeys...)
	fields.Identity = firstNonEmpty(m, identityKeys...)
	fields.Badge = firstNonEmpty(m, badgeKeys...)
	fields.Location = firstNonEmpty(m, locationKeys...)
	fields.Device = firstNonEmpty(m, deviceKeys...)
	fields.Address = firstNonEmpty(m, addressKeys...)
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	m = reSyslogTS.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees. Headerless records are
// read as timestamp, identity, location, device, address.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if p.header != nil {
		row := make(map[string]string, len(p.header))
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			row[name] = strings.TrimSpace(record[i])
			fields.Extras[name] = row[name]
		}
		assignKnown(fields, row)
		return fields, nil
	}
	positional := []*string{&fields.Timestamp, &fields.Identity, &fields.Location, &fields.Device, &fields.Address}
	for i, dst := range positional {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	known := make(map[string]bool)
	for _, group := range [][]string{idKeys, timestampKeys, identityKeys, badgeKeys, locationKeys, deviceKeys, addressKeys} {
		for _, k := range group {
			known[k] = true
		}
	}
	for _, v := range record {
		if known[strings.ToLower(strings.TrimSpace(v))] {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
