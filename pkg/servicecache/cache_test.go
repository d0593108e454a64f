package servicecache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedTime(hhmm string) string {
	return "2026-01-02T" + hhmm + ":00"
}

func timedService(trainID, platform, std string) feedService {
	return feedService{
		TrainID:      trainID,
		Platform:     platform,
		STDSpecified: true,
		STD:          feedTime(std),
		Operator:     "Great Western Railway",
		Destination:  []feedLocationName{{LocationName: "London Paddington"}},
	}
}

func arrivalOnlyService(trainID, platform string) feedService {
	return feedService{
		TrainID:     trainID,
		Platform:    platform,
		Destination: []feedLocationName{{LocationName: "Terminates here"}},
	}
}

func boardJSON(t *testing.T, services ...feedService) []byte {
	t.Helper()
	data, err := json.Marshal(feedBoard{
		LocationName:  "Nailsea & Backwell",
		TrainServices: services,
	})
	require.NoError(t, err)
	return data
}

const reasonCodesJSON = `[
	{"code": 47, "lateReason": "This train has been delayed for operational reasons", "cancReason": "Operational reasons"},
	{"code": 100, "lateReason": "This train has been delayed by a broken down train", "cancReason": "A broken down train"}
]`

func newCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	cache := New(capacity)
	require.NoError(t, cache.LoadReasonCodes([]byte(reasonCodesJSON)))
	return cache
}

func selectedSlots(t *testing.T, cache *Cache) []int {
	t.Helper()
	slots := make([]int, 0, DepartureSlots)
	for ordinal := 1; ordinal <= DepartureSlots; ordinal++ {
		slot, _, err := cache.Departure(ordinal)
		require.NoError(t, err)
		slots = append(slots, slot)
	}
	return slots
}

func TestPrefetchOrdersByDepartureWithInvalidLast(t *testing.T) {
	cache := newCache(t, 10)
	data := boardJSON(t,
		timedService("A1", "1", "09:10"),
		arrivalOnlyService("B2", "1"),
		timedService("C3", "1", "09:05"),
		arrivalOnlyService("D4", "1"),
	)
	require.NoError(t, cache.Prefetch(data, 1))

	assert.Equal(t, []int{2, 0, 1, 3}, cache.ordered)
}

func TestHydrateSkipsArrivalOnlyWithoutConsumingSlot(t *testing.T) {
	cache := newCache(t, 10)
	data := boardJSON(t,
		arrivalOnlyService("A1", "1"),
		timedService("B2", "1", "09:05"),
		arrivalOnlyService("C3", "1"),
		timedService("D4", "1", "09:10"),
		timedService("E5", "1", "09:15"),
	)
	require.NoError(t, cache.Bootstrap(data, 1))

	assert.Equal(t, []int{1, 3, 4}, selectedSlots(t, cache))
}

func TestHydrateWithPlatformFilter(t *testing.T) {
	cache := newCache(t, 10)
	data := boardJSON(t,
		timedService("A1", "2", "09:20"),
		timedService("B2", "1", "09:05"),
		timedService("C3", "2", "09:45"),
		timedService("D4", "3", "09:10"),
		timedService("E5", "2", "09:00"),
		timedService("F6", "1", "09:30"),
	)
	require.NoError(t, cache.Prefetch(data, 1))

	cache.SetPlatform("2")
	require.NoError(t, cache.HydrateDepartures())

	assert.Equal(t, []int{4, 0, 2}, selectedSlots(t, cache))
}

func TestPlatformFilterConsumesArrivalOnlySlot(t *testing.T) {
	cache := newCache(t, 10)
	data := boardJSON(t,
		timedService("A1", "2", "09:05"),
		arrivalOnlyService("B2", "2"),
		timedService("C3", "2", "09:10"),
	)
	require.NoError(t, cache.Prefetch(data, 1))

	cache.SetPlatform("2")
	require.NoError(t, cache.HydrateDepartures())

	assert.Equal(t, []int{0, 2, NoService}, selectedSlots(t, cache))
}

func TestNoServiceSlotYieldsZeroValues(t *testing.T) {
	cache := newCache(t, 10)
	require.NoError(t, cache.Bootstrap(boardJSON(t), 1))

	info, err := cache.BasicInfo(NoService, "")
	require.NoError(t, err)
	assert.Equal(t, BasicInfo{}, info)

	points, err := cache.CallingPoints(NoService, "", true)
	require.NoError(t, err)
	assert.Empty(t, points)

	location, err := cache.ServiceLocation(NoService, "")
	require.NoError(t, err)
	assert.Empty(t, location)

	platform, err := cache.Platform(NoService, "")
	require.NoError(t, err)
	assert.Empty(t, platform)
}

func TestStaticDataPreservedWhenIdentityUnchanged(t *testing.T) {
	cache := newCache(t, 10)

	first := timedService("A1", "1", "09:10")
	require.NoError(t, cache.Bootstrap(boardJSON(t, first), 1))

	info, err := cache.BasicInfo(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "London Paddington", info.Destination)
	assert.Equal(t, "On Time", info.EstimatedDeparture)

	// Same occupant, later feed version. The destination field is
	// static and keeps its hydrated value, the estimate refreshes.
	second := first
	second.Destination = []feedLocationName{{LocationName: "Bristol Temple Meads"}}
	second.ETDSpecified = true
	second.ETD = feedTime("09:25")
	require.NoError(t, cache.Update(boardJSON(t, second), 2))

	info, err = cache.BasicInfo(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "London Paddington", info.Destination)
	assert.Equal(t, "09:25", info.EstimatedDeparture)

	// New occupant at the slot forces a full rebuild.
	third := second
	third.TrainID = "Z9"
	require.NoError(t, cache.Update(boardJSON(t, third), 3))

	info, err = cache.BasicInfo(0, "Z9")
	require.NoError(t, err)
	assert.Equal(t, "Bristol Temple Meads", info.Destination)
}

func TestCancelledServiceDecodesReason(t *testing.T) {
	cache := newCache(t, 10)

	service := timedService("A1", "1", "09:10")
	service.IsCancelled = true
	service.CancelReason = feedReasonRef{Value: 47}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	info, err := cache.BasicInfo(0, "A1")
	require.NoError(t, err)
	assert.True(t, info.IsCancelled)
	assert.Equal(t, "Cancelled", info.EstimatedDeparture)
	assert.Equal(t, "Operational reasons", info.CancelReason)
	assert.Empty(t, info.DelayReason)
}

func TestUnknownReasonCodeDecodesEmpty(t *testing.T) {
	cache := newCache(t, 10)

	service := timedService("A1", "1", "09:10")
	service.DelayReason = feedReasonRef{Value: 9999}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	info, err := cache.BasicInfo(0, "A1")
	require.NoError(t, err)
	assert.Empty(t, info.DelayReason)
}

func TestReasonCodesReloadReplacesTable(t *testing.T) {
	cache := newCache(t, 10)

	service := timedService("A1", "1", "09:10")
	service.IsCancelled = true
	service.CancelReason = feedReasonRef{Value: 47}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	require.NoError(t, cache.LoadReasonCodes([]byte(
		`[{"code": 47, "lateReason": "", "cancReason": "Engineering works"}]`)))
	require.NoError(t, cache.Update(boardJSON(t, service), 2))

	info, err := cache.BasicInfo(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Engineering works", info.CancelReason)
}

func TestEstimatedDisplay(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*feedService)
		display string
	}{
		{"no estimate", func(s *feedService) {}, "On Time"},
		{"estimate matches schedule", func(s *feedService) {
			s.ETDSpecified = true
			s.ETD = feedTime("09:10")
		}, "On Time"},
		{"estimate differs", func(s *feedService) {
			s.ETDSpecified = true
			s.ETD = feedTime("09:22")
		}, "09:22"},
		{"delayed without estimate", func(s *feedService) {
			s.DepartureType = "Delayed"
		}, "Delayed"},
		{"cancelled wins", func(s *feedService) {
			s.IsCancelled = true
			s.ETDSpecified = true
			s.ETD = feedTime("09:22")
		}, "Cancelled"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service := timedService("A1", "1", "09:10")
			tc.mutate(&service)
			assert.Equal(t, tc.display, estimatedDisplay(&service))
		})
	}
}

func TestCallingPointsTimesPreferActualOverEstimate(t *testing.T) {
	cache := newCache(t, 10)
	service := timedService("A1", "1", "09:10")
	service.SubsequentLocations = []feedCallingPoint{
		{LocationName: "Yatton", ATASpecified: true, ATA: feedTime("09:18"), ETASpecified: true, ETA: feedTime("09:20")},
		{LocationName: "Worle", ETASpecified: true, ETA: feedTime("09:26"), STASpecified: true, STA: feedTime("09:24")},
		{LocationName: "Puxton Loop", IsPass: true},
		{LocationName: "Weston Milton", STASpecified: true, STA: feedTime("09:31")},
		{LocationName: "Weston-super-Mare", IsCancelled: true},
	}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	plain, err := cache.CallingPoints(0, "A1", false)
	require.NoError(t, err)
	assert.Equal(t, "Yatton, Worle, Weston Milton, Weston-super-Mare", plain)

	timed, err := cache.CallingPoints(0, "A1", true)
	require.NoError(t, err)
	assert.Equal(t, "Yatton (09:18), Worle (09:26), Weston Milton (09:31), Weston-super-Mare (Cancelled)", timed)
}

func TestServiceLocationBetweenStops(t *testing.T) {
	cache := newCache(t, 10)
	service := timedService("A1", "1", "09:10")
	service.PreviousLocations = []feedCallingPoint{
		{LocationName: "Bristol Temple Meads", ATDSpecified: true, ATD: feedTime("08:50")},
		{LocationName: "Bedminster", ATDSpecified: true, ATD: feedTime("08:54")},
		{LocationName: "Parson Street"},
	}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	location, err := cache.ServiceLocation(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "This service is between Bedminster and Parson Street", location)
}

func TestServiceLocationFallsBackToBoardStation(t *testing.T) {
	cache := newCache(t, 10)
	service := timedService("A1", "1", "09:10")
	service.PreviousLocations = []feedCallingPoint{
		{LocationName: "Parson Street", ATDSpecified: true, ATD: feedTime("09:02")},
	}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	location, err := cache.ServiceLocation(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "This service is between Parson Street and Nailsea & Backwell", location)
}

func TestServiceLocationEmptyBeforeFirstDeparture(t *testing.T) {
	cache := newCache(t, 10)
	service := timedService("A1", "1", "09:10")
	service.PreviousLocations = []feedCallingPoint{
		{LocationName: "Bristol Temple Meads"},
	}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	location, err := cache.ServiceLocation(0, "A1")
	require.NoError(t, err)
	assert.Empty(t, location)
}

func TestNetworkMessageSanitizedAndJoined(t *testing.T) {
	cache := newCache(t, 10)
	data, err := json.Marshal(feedBoard{
		LocationName: "Bristol Temple Meads",
		NRCCMessages: []feedMessage{
			{XHTMLMessage: "<p>Engineering works between Bath Spa &amp; Chippenham.</p>"},
			{XHTMLMessage: "Buses replace trains."},
		},
	})
	require.NoError(t, err)
	require.NoError(t, cache.Bootstrap(data, 1))

	assert.Equal(t,
		"Engineering works between Bath Spa & Chippenham. | Buses replace trains.",
		cache.NetworkMessage())
}

func TestAccessorRejectsSlotReusedByNewSnapshot(t *testing.T) {
	cache := newCache(t, 10)
	require.NoError(t, cache.Bootstrap(boardJSON(t, timedService("A1", "1", "09:10")), 1))

	slot, trainID, err := cache.Departure(1)
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.Equal(t, "A1", trainID)

	// A new snapshot reuses the slot for a different service between
	// the reader resolving its ordinal and fetching the record.
	require.NoError(t, cache.Update(boardJSON(t, timedService("Z9", "1", "09:40")), 2))

	_, err = cache.BasicInfo(slot, trainID)
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	_, err = cache.CallingPoints(slot, trainID, true)
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	_, err = cache.Platform(slot, trainID)
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	// The new occupant is reachable with its own identity.
	info, err := cache.BasicInfo(slot, "Z9")
	require.NoError(t, err)
	assert.Equal(t, "Z9", info.TrainID)
}

func TestSelectionRecordsOccupantIdentity(t *testing.T) {
	cache := newCache(t, 10)
	require.NoError(t, cache.Bootstrap(boardJSON(t,
		timedService("A1", "1", "09:10"),
		timedService("B2", "2", "09:25"),
	), 1))

	slot, trainID, err := cache.Departure(2)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.Equal(t, "B2", trainID)

	slot, trainID = cache.FirstDeparture()
	assert.Equal(t, 0, slot)
	assert.Equal(t, "A1", trainID)
}

func TestAccessorsBeforeAnySnapshot(t *testing.T) {
	cache := newCache(t, 10)

	_, err := cache.BasicInfo(0, "A1")
	assert.ErrorIs(t, err, ErrNoData)

	_, _, err = cache.Departure(0)
	assert.ErrorIs(t, err, ErrBadOrdinal)

	slot, trainID := cache.FirstDeparture()
	assert.Equal(t, NoService, slot)
	assert.Empty(t, trainID)
}

func TestAdditionalInfoHydration(t *testing.T) {
	cache := newCache(t, 10)
	service := timedService("A1", "1", "09:10")
	service.Origin = []feedLocationName{{LocationName: "Cardiff Central"}}
	service.IsPassengerService = true
	service.Formation = feedFormation{
		ServiceLoading: feedServiceLoading{
			LoadingPercentage: feedLoadingPercentage{Type: "Typical", Value: 45},
		},
	}
	require.NoError(t, cache.Bootstrap(boardJSON(t, service), 1))

	info, err := cache.AdditionalInfo(0, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Cardiff Central", info.Origin)
	assert.Equal(t, 45, info.LoadingPercentage)
	assert.True(t, info.PassengerService)
}

func TestSnapshotTruncatedToCapacity(t *testing.T) {
	cache := newCache(t, 2)
	data := boardJSON(t,
		timedService("A1", "1", "09:05"),
		timedService("B2", "1", "09:10"),
		timedService("C3", "1", "09:15"),
	)
	require.NoError(t, cache.Bootstrap(data, 1))

	assert.Equal(t, 2, cache.NumServices())
	_, err := cache.BasicInfo(2, "C3")
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestPrefetchRequiresReferenceData(t *testing.T) {
	cache := New(10)
	err := cache.Prefetch(boardJSON(t, timedService("A1", "1", "09:10")), 1)
	assert.ErrorIs(t, err, ErrNoReferenceData)
}

func TestCarryForwardSurvivesSlotMove(t *testing.T) {
	cache := newCache(t, 10)

	first := timedService("A1", "1", "09:10")
	second := timedService("B2", "1", "09:25")
	require.NoError(t, cache.Bootstrap(boardJSON(t, first, second), 1))

	// Hydrate B2's record while it sits at slot 1.
	info, err := cache.BasicInfo(1, "B2")
	require.NoError(t, err)
	assert.Equal(t, "London Paddington", info.Destination)

	// A1 departs; B2 shifts to slot 0 with mutated static fields.
	// The hydrated record follows the trainid, so the old static
	// values survive the move.
	moved := second
	moved.Destination = []feedLocationName{{LocationName: "Swansea"}}
	require.NoError(t, cache.Update(boardJSON(t, moved), 2))

	info, err = cache.BasicInfo(0, "B2")
	require.NoError(t, err)
	assert.Equal(t, "B2", info.TrainID)
	assert.Equal(t, "London Paddington", info.Destination)
}

func TestIndexDropsDepartedServices(t *testing.T) {
	cache := newCache(t, 10)

	require.NoError(t, cache.Bootstrap(boardJSON(t,
		timedService("A1", "1", "09:10"),
		timedService("B2", "1", "09:25"),
	), 1))
	require.NoError(t, cache.Update(boardJSON(t, timedService("B2", "1", "09:25")), 2))

	cache.mu.Lock()
	_, gone := cache.index["A1"]
	slot, kept := cache.index["B2"]
	cache.mu.Unlock()

	assert.False(t, gone)
	assert.True(t, kept)
	assert.Equal(t, 0, slot)
}

func TestNewServiceStartsWithoutStaticData(t *testing.T) {
	cache := newCache(t, 10)

	require.NoError(t, cache.Bootstrap(boardJSON(t, timedService("A1", "1", "09:10")), 1))
	require.NoError(t, cache.Prefetch(boardJSON(t,
		timedService("A1", "1", "09:10"),
		timedService("Z9", "2", "09:40"),
	), 2))

	cache.mu.Lock()
	fresh := cache.basic[1].static
	carried := cache.basic[0].static
	cache.mu.Unlock()

	assert.False(t, fresh, "new service must be flagged unhydrated")
	assert.True(t, carried)
}

func TestLocationNameCapturedOnce(t *testing.T) {
	cache := newCache(t, 10)

	data, err := json.Marshal(feedBoard{LocationName: "Nailsea & Backwell"})
	require.NoError(t, err)
	require.NoError(t, cache.Bootstrap(data, 1))

	data, err = json.Marshal(feedBoard{LocationName: "Somewhere Else"})
	require.NoError(t, err)
	require.NoError(t, cache.Update(data, 2))

	assert.Equal(t, "Nailsea & Backwell", cache.LocationName())
}

func TestPrefetchClearsSelection(t *testing.T) {
	cache := newCache(t, 10)

	require.NoError(t, cache.Bootstrap(boardJSON(t, timedService("A1", "1", "09:10")), 1))
	slot, trainID := cache.FirstDeparture()
	require.Equal(t, 0, slot)
	require.Equal(t, "A1", trainID)

	require.NoError(t, cache.Prefetch(boardJSON(t, timedService("A1", "1", "09:10")), 2))
	slot, trainID = cache.FirstDeparture()
	assert.Equal(t, NoService, slot)
	assert.Empty(t, trainID)

	require.NoError(t, cache.HydrateDepartures())
	slot, _ = cache.FirstDeparture()
	assert.Equal(t, 0, slot)
}
