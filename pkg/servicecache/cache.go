package servicecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"

	"github.com/railboard/railboard/pkg/sanitize"
)

// DepartureSlots is how many departures the selection keeps ordered
// and eagerly hydrated for the board rows.
const DepartureSlots = 3

var (
	ErrNoData           = errors.New("servicecache: no snapshot loaded")
	ErrNoReferenceData  = errors.New("servicecache: reason codes not loaded")
	ErrSlotOutOfRange   = errors.New("servicecache: slot out of range")
	ErrIdentityMismatch = errors.New("servicecache: service identity changed under reader")
	ErrBadOrdinal       = errors.New("servicecache: departure ordinal out of range")
)

// Cache holds the parsed departures snapshot plus per-slot derived
// records. Each prefetch builds a fresh generation of parallel
// arrays, carries hydrated records forward by trainid lookup against
// the previous generation, and swaps everything in under one lock so
// readers never see a half-applied snapshot.
type Cache struct {
	mu  sync.Mutex
	log zerolog.Logger

	maxServices int

	version     int64
	numServices int
	snapshot    []feedService

	locationName   string
	networkMessage string

	sequence   []SequenceInfo
	basic      []BasicInfo
	additional []AdditionalInfo
	calling    []callingPointsInfo

	// index maps trainid to slot for the current snapshot only.
	index map[string]int

	// ordered holds every populated slot index sorted chronologically,
	// departures the first DepartureSlots of them after platform
	// filtering, with NoService padding. departureIDs records each
	// selected occupant's trainid so readers can detect a slot being
	// reused by a later snapshot.
	ordered      []int
	departures   [DepartureSlots]int
	departureIDs [DepartureSlots]string

	platform    string
	platformSet bool

	reasons map[int]ReasonCode
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger replaces the package-global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = logger
	}
}

// New returns a Cache that retains up to maxServices services per
// snapshot. Slots beyond the snapshot length keep their previous
// contents but become unreachable until a later snapshot refills them.
func New(maxServices int, opts ...Option) *Cache {
	if maxServices <= 0 {
		maxServices = 1
	}

	c := &Cache{
		log:         log.Logger,
		maxServices: maxServices,
	}
	c.clearSelectionLocked()
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// LoadReasonCodes installs the lookup table used to decode the feed's
// numeric delay and cancellation reasons. Unknown codes decode to the
// empty string. Calling it again replaces the whole table rather than
// keeping the first load, so the run loop can refresh it.
func (c *Cache) LoadReasonCodes(data []byte) error {
	var codes []feedReasonCode
	if err := json.Unmarshal(data, &codes); err != nil {
		return fmt.Errorf("parse reason codes: %w", err)
	}

	table := make(map[int]ReasonCode, len(codes))
	for _, code := range codes {
		table[code.Code] = ReasonCode{
			Code:         code.Code,
			DelayReason:  code.LateReason,
			CancelReason: code.CancReason,
		}
	}

	c.mu.Lock()
	c.reasons = table
	c.mu.Unlock()

	c.log.Debug().Int("codes", len(table)).Msg("Loaded reason code table")
	return nil
}

// Prefetch parses a departures snapshot and reconciles it against the
// previous one. A new generation of parallel arrays is built, hydrated
// records are carried forward by trainid, and the whole generation is
// swapped in at once. Carried-forward derived data refreshes lazily on
// next access because its version tag is now behind.
func (c *Cache) Prefetch(data []byte, version int64) error {
	var board feedBoard
	if err := json.Unmarshal(data, &board); err != nil {
		return fmt.Errorf("parse departures snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reasons == nil {
		return ErrNoReferenceData
	}

	count := len(board.TrainServices)
	if count > c.maxServices {
		c.log.Warn().
			Int("services", count).
			Int("max", c.maxServices).
			Msg("Snapshot truncated to cache capacity")
		count = c.maxServices
	}

	snapshot := board.TrainServices[:count]
	sequence := make([]SequenceInfo, count)
	basic := make([]BasicInfo, count)
	additional := make([]AdditionalInfo, count)
	calling := make([]callingPointsInfo, count)
	index := make(map[string]int, count)

	for i := range snapshot {
		service := &snapshot[i]

		seq := SequenceInfo{
			TrainID:            service.TrainID,
			Platform:           service.Platform,
			ScheduledDeparture: feedTimeHHMM(service.STD),
			etdSpecified:       service.ETDSpecified,
		}
		if service.ETDSpecified {
			seq.EstimatedDeparture = feedTimeHHMM(service.ETD)
		}
		if service.STDSpecified {
			if at, ok := parseFeedTime(service.STD); ok {
				seq.DepartureValid = true
				seq.departureAt = at.Unix()
			}
		}
		sequence[i] = seq

		// Carried-forward services keep their hydrated records, even
		// when the service moved slots. Anything else starts blank
		// with no static data.
		if prev, ok := c.index[service.TrainID]; ok {
			basic[i] = c.basic[prev]
			additional[i] = c.additional[prev]
			calling[i] = c.calling[prev]
		}
		index[service.TrainID] = i
	}

	c.version = version
	c.numServices = count
	c.snapshot = snapshot
	c.sequence = sequence
	c.basic = basic
	c.additional = additional
	c.calling = calling
	c.index = index

	// The station name never changes for a running board; keep the
	// first one seen.
	if c.locationName == "" {
		c.locationName = sanitize.Clean(board.LocationName)
	}
	c.networkMessage = joinMessages(board.NRCCMessages)

	c.orderServicesLocked()
	c.clearSelectionLocked()

	c.log.Debug().
		Int64("version", version).
		Int("services", count).
		Str("location", c.locationName).
		Msg("Prefetched departures snapshot")
	return nil
}

// orderServicesLocked sorts the populated slot indexes chronologically
// by scheduled departure. Arrival-only services have no departure time
// and sort after every timed service, keeping their snapshot order.
func (c *Cache) orderServicesLocked() {
	c.ordered = c.ordered[:0]
	for i := 0; i < c.numServices; i++ {
		c.ordered = append(c.ordered, i)
	}

	slices.SortStableFunc(c.ordered, func(a, b int) int {
		sa, sb := &c.sequence[a], &c.sequence[b]
		switch {
		case sa.DepartureValid && !sb.DepartureValid:
			return -1
		case !sa.DepartureValid && sb.DepartureValid:
			return 1
		case !sa.DepartureValid:
			return 0
		case sa.departureAt < sb.departureAt:
			return -1
		case sa.departureAt > sb.departureAt:
			return 1
		default:
			return 0
		}
	})
}

// SetPlatform restricts the departure selection to services calling at
// the given platform. It takes effect on the next HydrateDepartures.
func (c *Cache) SetPlatform(platform string) {
	c.mu.Lock()
	c.platform = platform
	c.platformSet = true
	c.mu.Unlock()
}

// ClearPlatform removes the platform restriction.
func (c *Cache) ClearPlatform() {
	c.mu.Lock()
	c.platform = ""
	c.platformSet = false
	c.mu.Unlock()
}

// SelectedPlatform reports the active platform filter, if any.
func (c *Cache) SelectedPlatform() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platform, c.platformSet
}

func (c *Cache) clearSelectionLocked() {
	for i := range c.departures {
		c.departures[i] = NoService
		c.departureIDs[i] = ""
	}
}

// HydrateDepartures rebuilds the departure selection from the current
// ordering, recording each occupant's trainid alongside its slot, and
// eagerly hydrates the first-row record of every selected service.
//
// Without a platform filter, arrival-only services are skipped without
// consuming a slot. With a filter, a matching arrival-only service
// still occupies its slot as NoService so the board shows the gap at
// the platform rather than pulling a later departure forward.
func (c *Cache) HydrateDepartures() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearSelectionLocked()

	next := 0
	for _, slot := range c.ordered {
		if next >= DepartureSlots {
			break
		}
		seq := &c.sequence[slot]

		if c.platformSet {
			if seq.Platform != c.platform {
				continue
			}
			if !seq.DepartureValid {
				next++
				continue
			}
		} else if !seq.DepartureValid {
			continue
		}

		c.departures[next] = slot
		c.departureIDs[next] = seq.TrainID
		next++
	}

	for i, slot := range c.departures {
		if slot == NoService {
			continue
		}
		if err := c.hydrateBasicLocked(slot, c.departureIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap loads an initial snapshot and builds the selection in one
// call.
func (c *Cache) Bootstrap(data []byte, version int64) error {
	if err := c.Prefetch(data, version); err != nil {
		return err
	}
	return c.HydrateDepartures()
}

// Update applies a refreshed snapshot. It is Bootstrap under a name
// that reads better at call sites inside the fetch loop.
func (c *Cache) Update(data []byte, version int64) error {
	return c.Bootstrap(data, version)
}

// checkSlotLocked verifies the slot still holds the service the
// caller selected. Slots are reused by reconciliation, so a reader
// that resolved its slot under an earlier lock must present the
// trainid it recorded at selection time.
func (c *Cache) checkSlotLocked(slot int, trainID string) error {
	if c.numServices == 0 {
		return ErrNoData
	}
	if slot < 0 || slot >= c.numServices {
		return fmt.Errorf("%w: slot %d of %d", ErrSlotOutOfRange, slot, c.numServices)
	}
	if c.snapshot[slot].TrainID != trainID {
		c.log.Error().
			Int("slot", slot).
			Str("expected", trainID).
			Str("found", c.snapshot[slot].TrainID).
			Msg("Service identity mismatch")
		return ErrIdentityMismatch
	}
	return nil
}

// hydrateBasicLocked fills the slot's first-row record. Static fields
// are rebuilt only when the occupant changed, dynamic fields whenever
// the feed version moved on.
func (c *Cache) hydrateBasicLocked(slot int, trainID string) error {
	if err := c.checkSlotLocked(slot, trainID); err != nil {
		return err
	}

	service := &c.snapshot[slot]
	info := &c.basic[slot]

	if info.TrainID != service.TrainID {
		info.static = false
	}
	if !info.static {
		info.TrainID = service.TrainID
		info.Destination = locationNames(service.Destination)
		info.Operator = service.Operator
		info.ScheduledDeparture = feedTimeHHMM(service.STD)
		info.static = true
		info.version = c.version - 1
	}
	if info.version == c.version {
		return nil
	}

	info.EstimatedDeparture = estimatedDisplay(service)
	info.Coaches = service.Length
	info.IsCancelled = service.IsCancelled
	info.CancelReason = c.decodeReasonLocked(service.CancelReason.Value, true)
	info.DelayReason = c.decodeReasonLocked(service.DelayReason.Value, false)
	info.AdhocAlerts = sanitize.Clean(service.AdhocAlerts)
	info.version = c.version
	return nil
}

func (c *Cache) hydrateAdditionalLocked(slot int, trainID string) error {
	if err := c.checkSlotLocked(slot, trainID); err != nil {
		return err
	}

	service := &c.snapshot[slot]
	info := &c.additional[slot]

	if info.TrainID != service.TrainID {
		info.static = false
	}
	if !info.static {
		info.TrainID = service.TrainID
		info.Origin = locationNames(service.Origin)
		info.static = true
		info.version = c.version - 1
	}
	if info.version == c.version {
		return nil
	}

	info.LoadingCategory = service.Formation.ServiceLoading.LoadingPercentage.Type
	info.LoadingPercentage = service.Formation.ServiceLoading.LoadingPercentage.Value
	info.PlatformHidden = service.PlatformIsHidden
	info.Suppressed = service.ServiceIsSupressed
	info.PassengerService = service.IsPassengerService
	info.version = c.version
	return nil
}

func (c *Cache) hydrateCallingPointsLocked(slot int, trainID string) error {
	if err := c.checkSlotLocked(slot, trainID); err != nil {
		return err
	}

	service := &c.snapshot[slot]
	info := &c.calling[slot]

	if info.static && info.version == c.version {
		return nil
	}

	info.points, info.pointsWithETD = callingPointStrings(service.SubsequentLocations)
	info.location = c.serviceLocationLocked(service)
	info.static = true
	info.version = c.version
	return nil
}

// decodeReasonLocked resolves a numeric reason to its display text.
// Zero and unknown codes decode to the empty string.
func (c *Cache) decodeReasonLocked(code int, cancellation bool) string {
	if code == 0 {
		return ""
	}
	reason, ok := c.reasons[code]
	if !ok {
		c.log.Warn().Int("code", code).Msg("Unknown reason code")
		return ""
	}
	if cancellation {
		return reason.CancelReason
	}
	return reason.DelayReason
}

// serviceLocationLocked derives the "between X and Y" progress text by
// finding the last previous stop the service actually departed.
func (c *Cache) serviceLocationLocked(service *feedService) string {
	last := -1
	for i, stop := range service.PreviousLocations {
		if stop.ATDSpecified {
			last = i
		}
	}
	if last < 0 {
		return ""
	}

	from := service.PreviousLocations[last].LocationName
	to := c.locationName
	if last+1 < len(service.PreviousLocations) {
		to = service.PreviousLocations[last+1].LocationName
	}
	return "This service is between " + from + " and " + to
}

// Sequence returns the lightweight record for a populated slot, after
// verifying the slot still holds the expected service.
func (c *Cache) Sequence(slot int, trainID string) (SequenceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return SequenceInfo{}, nil
	}
	if err := c.checkSlotLocked(slot, trainID); err != nil {
		return SequenceInfo{}, err
	}
	return c.sequence[slot], nil
}

// BasicInfo returns the first-row view of a slot, hydrating it if the
// stored record is missing or stale. NoService yields a zero record.
func (c *Cache) BasicInfo(slot int, trainID string) (BasicInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return BasicInfo{}, nil
	}
	if err := c.hydrateBasicLocked(slot, trainID); err != nil {
		return BasicInfo{}, err
	}
	return c.basic[slot], nil
}

// AdditionalInfo returns the detail view of a slot, hydrating on
// demand like BasicInfo.
func (c *Cache) AdditionalInfo(slot int, trainID string) (AdditionalInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return AdditionalInfo{}, nil
	}
	if err := c.hydrateAdditionalLocked(slot, trainID); err != nil {
		return AdditionalInfo{}, err
	}
	return c.additional[slot], nil
}

// CallingPoints returns the comma-joined route for a slot, with a
// per-stop arrival time suffix when withTimes is set.
func (c *Cache) CallingPoints(slot int, trainID string, withTimes bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return "", nil
	}
	if err := c.hydrateCallingPointsLocked(slot, trainID); err != nil {
		return "", err
	}
	if withTimes {
		return c.calling[slot].pointsWithETD, nil
	}
	return c.calling[slot].points, nil
}

// ServiceLocation returns the "between X and Y" progress text, or the
// empty string when the service has not yet departed anywhere.
func (c *Cache) ServiceLocation(slot int, trainID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return "", nil
	}
	if err := c.hydrateCallingPointsLocked(slot, trainID); err != nil {
		return "", err
	}
	return c.calling[slot].location, nil
}

// Platform returns the slot's platform string.
func (c *Cache) Platform(slot int, trainID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot == NoService {
		return "", nil
	}
	if err := c.checkSlotLocked(slot, trainID); err != nil {
		return "", err
	}
	return c.sequence[slot].Platform, nil
}

// Departure maps a 1-based ordinal onto the selected slot and the
// trainid recorded when the selection was built. Callers pass both
// back to the accessors, which fail if the slot has been reused by a
// later snapshot. Empty positions report NoService.
func (c *Cache) Departure(ordinal int) (int, string, error) {
	if ordinal < 1 || ordinal > DepartureSlots {
		return NoService, "", fmt.Errorf("%w: %d", ErrBadOrdinal, ordinal)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.departures[ordinal-1], c.departureIDs[ordinal-1], nil
}

// FirstDeparture is Departure(1) with NoService on any failure.
func (c *Cache) FirstDeparture() (int, string) {
	slot, trainID, err := c.Departure(1)
	if err != nil {
		return NoService, ""
	}
	return slot, trainID
}

// LocationName returns the board's station name from the last
// snapshot.
func (c *Cache) LocationName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locationName
}

// NetworkMessage returns the sanitized, joined NRCC messages.
func (c *Cache) NetworkMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkMessage
}

// NumServices reports how many slots the last snapshot populated.
func (c *Cache) NumServices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numServices
}

// Version reports the feed version of the last snapshot.
func (c *Cache) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// estimatedDisplay derives the estimated-departure text shown beside
// the scheduled time.
func estimatedDisplay(service *feedService) string {
	if service.IsCancelled {
		return "Cancelled"
	}
	if service.ETDSpecified {
		etd := feedTimeHHMM(service.ETD)
		if etd == feedTimeHHMM(service.STD) {
			return "On Time"
		}
		return etd
	}
	if service.DepartureType == "Delayed" {
		return "Delayed"
	}
	return "On Time"
}

// locationNames joins a multi-segment origin or destination list.
func locationNames(locations []feedLocationName) string {
	switch len(locations) {
	case 0:
		return ""
	case 1:
		return locations[0].LocationName
	}

	names := make([]string, len(locations))
	for i, loc := range locations {
		names[i] = loc.LocationName
	}
	return strings.Join(names, " and ")
}

// callingPointStrings builds the plain and timed route strings from
// the subsequent stops, skipping passing points. The per-stop time
// prefers actual over estimated over scheduled arrival.
func callingPointStrings(stops []feedCallingPoint) (plain, timed string) {
	var names, withTimes []string
	for _, stop := range stops {
		if stop.IsPass {
			continue
		}

		name := stop.LocationName
		if stop.IsCancelled {
			names = append(names, name)
			withTimes = append(withTimes, name+" (Cancelled)")
			continue
		}
		names = append(names, name)

		switch {
		case stop.ATASpecified:
			withTimes = append(withTimes, name+" ("+feedTimeHHMM(stop.ATA)+")")
		case stop.ETASpecified:
			withTimes = append(withTimes, name+" ("+feedTimeHHMM(stop.ETA)+")")
		case stop.STASpecified:
			withTimes = append(withTimes, name+" ("+feedTimeHHMM(stop.STA)+")")
		default:
			withTimes = append(withTimes, name)
		}
	}
	return strings.Join(names, ", "), strings.Join(withTimes, ", ")
}

// joinMessages joins and sanitizes the NRCC notices into one scrolling
// string.
func joinMessages(messages []feedMessage) string {
	if len(messages) == 0 {
		return ""
	}

	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		if text := sanitize.Clean(message.XHTMLMessage); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " | ")
}
