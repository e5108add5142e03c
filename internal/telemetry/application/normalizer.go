package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const (
	keyNotification = "m2m:sgn"
	keyContentInst  = "m2m:cin"
	unknownParent   = "unknown"

	ctLayout = "20060102T150405"
)

// metadata keys never resolved as metrics.
var metadataKeys = map[string]struct{}{
	"rn": {}, "ct": {}, "lt": {}, "et": {}, "ri": {}, "pi": {}, "ty": {}, "st": {},
	"lbl": {}, "lnk": {}, "cnd": {}, "ts": {}, "room": {}, "desk": {}, "device": {},
	"unit": {}, "units": {}, "qos": {}, "sensor": {}, "labels": {}, "cnf": {}, "cs": {},
}

// Flex containers whose co2 reading is reported in mg/m3 rather than ppm.
var containerUnits = map[string]map[telemetry.Metric]string{
	"cod:aiQSr": {telemetry.MetricCO2: "mg/m3"},
}

// SourceHints carries receipt information not present in the payload.
type SourceHints struct {
	EntryID    int64
	ReceivedAt time.Time
	Origin     string
}

// Normalizer converts inbound payloads into normalized envelopes.
type Normalizer struct {
	logger *log.Logger
}

// NewNormalizer constructs a normalizer.
func NewNormalizer(logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Normalizer{logger: logger}
}

// IsVerification reports whether raw is a subscription verification handshake.
func IsVerification(raw []byte) bool {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	sgn, ok := body[keyNotification].(map[string]any)
	if !ok {
		return false
	}
	vrq, _ := sgn["vrq"].(bool)
	return vrq
}

// Normalize resolves a compact, flat or nested payload into a canonical envelope.
func (n *Normalizer) Normalize(raw []byte, hints SourceHints) (telemetry.NormalizedEnvelope, error) {
	body, err := decodeObject(raw)
	if err != nil {
		return telemetry.NormalizedEnvelope{}, &telemetry.NormalizationError{Reason: telemetry.ReasonMalformed, Detail: err.Error()}
	}

	loc := locateContent(body)
	ext := newExtraction(loc.unitHints)
	n.extract(ext, loc.content)
	ext.fillIdentity(loc.outer)

	metrics := ext.resolve(n.logger)
	if len(metrics) == 0 {
		return telemetry.NormalizedEnvelope{}, &telemetry.NormalizationError{Reason: telemetry.ReasonEmpty}
	}

	env := telemetry.NormalizedEnvelope{
		ParentPath: loc.parentPath,
		ContentID:  loc.contentID,
		Room:       ext.room,
		Desk:       ext.desk,
		Device:     ext.device,
		Labels:     ext.labels,
		Metrics:    metrics,
		RawPayload: json.RawMessage(append([]byte(nil), raw...)),
	}
	if env.ParentPath == "" {
		env.ParentPath = unknownParent
	}
	if env.ContentID == "" && !loc.resourceRN {
		env.ContentID = ext.contentID
	}
	if env.ContentID == "" && hints.EntryID > 0 {
		env.ContentID = fmt.Sprintf("cin-job-%d", hints.EntryID)
	}
	if env.Room == "" {
		env.Room = ext.labels["room"]
	}
	if env.Desk == "" {
		env.Desk = ext.labels["desk"]
	}
	if env.Device == "" {
		env.Device = env.Desk
	}

	observed := parseObservedAt(loc.ct)
	if observed.IsZero() {
		observed = parseObservedAt(ext.ts)
	}
	if observed.IsZero() {
		observed = hints.ReceivedAt.UTC()
	}
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	env.ObservedAt = observed
	env.Origin = buildOrigin(env.Room, env.Desk, env.Device, hints.Origin)
	return env, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	body, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("payload is not a json object")
	}
	return body, nil
}

type location struct {
	content    any
	outer      map[string]any
	parentPath string
	contentID  string
	ct         any
	unitHints  map[telemetry.Metric]string
	// resourceRN marks content whose rn names the sensor resource, not the reading.
	resourceRN bool
}

// locateContent walks the wrapper structure to find the metric-bearing object.
func locateContent(body map[string]any) location {
	if sgn, ok := body[keyNotification].(map[string]any); ok {
		loc := location{parentPath: stringOf(sgn["sur"])}
		nev, _ := sgn["nev"].(map[string]any)
		rep := nev["rep"]
		if repMap, ok := rep.(map[string]any); ok {
			if cin, ok := repMap[keyContentInst].(map[string]any); ok {
				loc.contentID = stringOf(cin["rn"])
				loc.ct = cin["ct"]
				loc.content = decodeEmbedded(cin["con"])
				loc.outer = cin
				return loc
			}
			if key, inner, ok := singleNamespaced(repMap, ""); ok {
				loc.contentID = readingID(inner)
				loc.ct = inner["ct"]
				loc.content = inner
				loc.unitHints = containerUnits[key]
				loc.resourceRN = true
				return loc
			}
		}
		if found := findAnnouncement(rep); found != nil {
			loc.contentID = stringOf(found["rn"])
			loc.ct = found["ct"]
			loc.content = found
			return loc
		}
		loc.content = rep
		return loc
	}

	if key, inner, ok := singleNamespaced(body, "cod:"); ok {
		return location{
			content:    inner,
			outer:      body,
			parentPath: stringOf(inner["lnk"]),
			contentID:  readingID(inner),
			ct:         inner["ct"],
			unitHints:  containerUnits[key],
			resourceRN: true,
		}
	}

	for _, wrapper := range []string{"con", "content"} {
		if wrapped, ok := body[wrapper]; ok {
			switch wrapped.(type) {
			case map[string]any, string:
				return location{
					content:    decodeEmbedded(wrapped),
					outer:      body,
					parentPath: firstString(body, "sur", "pi", "parent"),
					contentID:  stringOf(body["rn"]),
					ct:         body["ct"],
				}
			}
		}
	}

	return location{content: body}
}

// readingID identifies one update of a flex container. Its rn is fixed per
// sensor, so the modification time (lt, else ct) is appended; without either
// the queue entry id is used instead.
func readingID(container map[string]any) string {
	rn := stringOf(container["rn"])
	if rn == "" {
		return ""
	}
	stamp := firstString(container, "lt", "ct")
	if stamp == "" {
		return ""
	}
	return rn + "@" + stamp
}

func singleNamespaced(obj map[string]any, prefix string) (string, map[string]any, bool) {
	var key string
	count := 0
	for k := range obj {
		if strings.Contains(k, ":") && strings.HasPrefix(k, prefix) {
			key = k
			count++
		}
	}
	if count != 1 {
		return "", nil, false
	}
	inner, ok := obj[key].(map[string]any)
	return key, inner, ok
}

func findAnnouncement(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		_, hasRN := v["rn"]
		_, hasCT := v["ct"]
		if hasRN && hasCT {
			return v
		}
		for key := range v {
			if _, ok := telemetry.ResolveMetric(key); ok {
				return v
			}
		}
		for _, key := range sortedKeys(v) {
			if found := findAnnouncement(v[key]); found != nil {
				return found
			}
		}
	case []any:
		for _, item := range v {
			if found := findAnnouncement(item); found != nil {
				return found
			}
		}
	}
	return nil
}

// decodeEmbedded unwraps content stored as a JSON-encoded string.
func decodeEmbedded(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	decoded, err := decodeObject([]byte(text))
	if err != nil {
		return value
	}
	return decoded
}

type observation struct {
	key    string
	metric telemetry.Metric
	value  any
	unit   string
}

type extraction struct {
	observations []observation
	unitHints    map[telemetry.Metric]string
	labels       map[string]string
	room         string
	desk         string
	device       string
	contentID    string
	ts           any
}

func newExtraction(unitHints map[telemetry.Metric]string) *extraction {
	return &extraction{unitHints: unitHints, labels: map[string]string{}}
}

func (n *Normalizer) extract(ext *extraction, content any) {
	obj, ok := content.(map[string]any)
	if !ok {
		return
	}
	ext.room = stringOf(obj["room"])
	ext.desk = stringOf(obj["desk"])
	ext.device = stringOf(obj["device"])
	ext.ts = obj["ts"]
	if ext.ts == nil {
		ext.ts = obj["ct"]
	}
	if labels, ok := obj["labels"].(map[string]any); ok {
		for k, v := range labels {
			if s := stringOf(v); s != "" {
				ext.labels[k] = s
			}
		}
	}
	units := map[string]string{}
	if raw, ok := obj["units"].(map[string]any); ok {
		for k, v := range raw {
			units[strings.ToLower(k)] = stringOf(v)
		}
	}

	if list, ok := obj["metrics"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := stringOf(entry["name"])
			if name == "" {
				continue
			}
			metric, ok := telemetry.ResolveMetric(name)
			if !ok {
				n.logger.Printf("normalize: dropped unknown metric %q", name)
				continue
			}
			ext.observations = append(ext.observations, observation{key: name, metric: metric, value: entry["value"], unit: stringOf(entry["unit"])})
		}
	}

	for _, key := range sortedKeys(obj) {
		if _, meta := metadataKeys[strings.ToLower(key)]; meta || key == "metrics" {
			continue
		}
		value := obj[key]
		metric, ok := telemetry.ResolveMetric(key)
		if ok {
			ext.observations = append(ext.observations, metricObservation(key, metric, value, units[strings.ToLower(key)]))
			continue
		}
		switch value.(type) {
		case map[string]any, []any:
		default:
			n.logger.Printf("normalize: dropped unknown key %q", key)
		}
	}

	n.scanNested(ext, obj, true)
}

// fillIdentity reads room, desk, device, ts and labels from the object around
// the wrapped content. Values found inside the content win.
func (e *extraction) fillIdentity(outer map[string]any) {
	if outer == nil {
		return
	}
	if e.room == "" {
		e.room = stringOf(outer["room"])
	}
	if e.desk == "" {
		e.desk = stringOf(outer["desk"])
	}
	if e.device == "" {
		e.device = stringOf(outer["device"])
	}
	if e.ts == nil {
		e.ts = outer["ts"]
	}
	if labels, ok := outer["labels"].(map[string]any); ok {
		for k, v := range labels {
			if _, set := e.labels[k]; set {
				continue
			}
			if s := stringOf(v); s != "" {
				e.labels[k] = s
			}
		}
	}
	if lbl, ok := outer["lbl"].([]any); ok {
		for _, entry := range lbl {
			key, val, found := strings.Cut(stringOf(entry), ":")
			if !found {
				continue
			}
			if _, set := e.labels[key]; !set {
				e.labels[key] = val
			}
		}
	}
}

func metricObservation(key string, metric telemetry.Metric, value any, unit string) observation {
	if wrapped, ok := value.(map[string]any); ok {
		if inner, ok := wrapped["value"]; ok {
			if u := stringOf(wrapped["unit"]); u != "" {
				unit = u
			}
			value = inner
		}
	}
	return observation{key: key, metric: metric, value: value, unit: unit}
}

// scanNested walks announcement structures for metric keys and labels.
func (n *Normalizer) scanNested(ext *extraction, value any, top bool) {
	switch v := value.(type) {
	case map[string]any:
		if !top {
			for _, key := range sortedKeys(v) {
				if metric, ok := telemetry.ResolveMetric(key); ok {
					ext.observations = append(ext.observations, metricObservation(key, metric, v[key], ""))
				}
			}
		}
		if rn := stringOf(v["rn"]); rn != "" {
			if ext.contentID == "" && top {
				ext.contentID = rn
			}
			if ext.device == "" {
				ext.device = rn
			}
		}
		if lbl, ok := v["lbl"].([]any); ok {
			for _, entry := range lbl {
				text := stringOf(entry)
				key, val, found := strings.Cut(text, ":")
				if !found {
					continue
				}
				ext.labels[key] = val
			}
		}
		for _, key := range sortedKeys(v) {
			if key == "metrics" || key == "labels" || key == "units" {
				continue
			}
			child := v[key]
			if _, isMetric := telemetry.ResolveMetric(key); isMetric {
				continue
			}
			switch child.(type) {
			case map[string]any, []any:
				n.scanNested(ext, child, false)
			}
		}
	case []any:
		for _, item := range v {
			n.scanNested(ext, item, false)
		}
	}
}

// resolve coerces observations, converts units and keeps the first value per metric.
func (e *extraction) resolve(logger *log.Logger) map[telemetry.Metric]float64 {
	values := make(map[telemetry.Metric]float64)
	units := make(map[telemetry.Metric]string)
	for _, obs := range e.observations {
		if _, seen := values[obs.metric]; seen {
			continue
		}
		number, ok := coerceNumber(obs.value)
		if !ok {
			logger.Printf("normalize: invalid value for %s (%s): %v", obs.metric, obs.key, obs.value)
			continue
		}
		values[obs.metric] = number
		unit := obs.unit
		if unit == "" {
			unit = e.unitHints[obs.metric]
		}
		units[obs.metric] = unit
	}

	if temp, ok := values[telemetry.MetricTemperature]; ok {
		values[telemetry.MetricTemperature] = ConvertUnit(telemetry.MetricTemperature, temp, units[telemetry.MetricTemperature], 0)
	}
	tempC := defaultConversionTemp
	if temp, ok := values[telemetry.MetricTemperature]; ok {
		tempC = temp
	}
	for metric, value := range values {
		if metric == telemetry.MetricTemperature {
			continue
		}
		values[metric] = ConvertUnit(metric, value, units[metric], tempC)
	}
	return values
}

// coerceNumber accepts numbers, numeric strings and booleans.
func coerceNumber(value any) (float64, bool) {
	var number float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		number = parsed
	case float64:
		number = v
	case int:
		number = float64(v)
	case int64:
		number = float64(v)
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		text := strings.ToLower(strings.TrimSpace(v))
		switch text {
		case "true":
			return 1, true
		case "false":
			return 0, true
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	default:
		return 0, false
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

// parseObservedAt accepts oneM2M ct strings, RFC3339 and epoch seconds or milliseconds.
func parseObservedAt(value any) time.Time {
	switch v := value.(type) {
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return time.Time{}
		}
		if idx := strings.IndexAny(text, ",."); idx > 0 && strings.Contains(text, "T") && !strings.Contains(text, "-") {
			text = text[:idx]
		}
		if ts, err := time.ParseInLocation(ctLayout, text, time.UTC); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return ts.UTC()
		}
		if number, err := strconv.ParseInt(text, 10, 64); err == nil {
			return epoch(number)
		}
	case json.Number:
		if number, err := v.Int64(); err == nil {
			return epoch(number)
		}
		if number, err := v.Float64(); err == nil {
			return epoch(int64(number))
		}
	case float64:
		return epoch(int64(v))
	}
	return time.Time{}
}

func epoch(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

func buildOrigin(room, desk, device, fallback string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{room, desk, device} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "/")
}

func stringOf(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringOf(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
