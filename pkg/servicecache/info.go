package servicecache

// NoService marks an empty departure slot. Accessors treat it as a
// valid query and return zero values rather than an error.
const NoService = 999

// SequenceInfo is the lightweight per-slot record built during
// prefetch. It carries just enough to order departures and answer
// platform queries without hydrating the full service.
type SequenceInfo struct {
	TrainID  string `json:"trainid" groups:"status"`
	Platform string `json:"platform" groups:"status"`

	ScheduledDeparture string `json:"std" groups:"status"`
	EstimatedDeparture string `json:"etd" groups:"status"`

	// DepartureValid is false for arrival-only services, which sort
	// after every service with a usable departure time.
	DepartureValid bool `json:"-"`
	departureAt    int64

	etdSpecified bool
}

// BasicInfo is the first-row view of a departure, hydrated lazily and
// refreshed whenever the slot's feed version moves on.
type BasicInfo struct {
	TrainID     string `json:"trainid" groups:"status"`
	Destination string `json:"destination" groups:"status"`

	ScheduledDeparture string `json:"std" groups:"status"`
	EstimatedDeparture string `json:"etd" groups:"status"`

	Operator string `json:"operator" groups:"status"`
	Coaches  int    `json:"coaches" groups:"status"`

	IsCancelled  bool   `json:"isCancelled" groups:"status"`
	CancelReason string `json:"cancelReason,omitempty" groups:"status"`
	DelayReason  string `json:"delayReason,omitempty" groups:"status"`
	AdhocAlerts  string `json:"adhocAlerts,omitempty" groups:"status"`

	version int64
	static  bool
}

// AdditionalInfo carries the slower-moving detail behind a departure.
type AdditionalInfo struct {
	TrainID string `json:"trainid" groups:"status"`
	Origin  string `json:"origin" groups:"status"`

	LoadingCategory   string `json:"loadingCategory,omitempty" groups:"status"`
	LoadingPercentage int    `json:"loadingPercentage" groups:"status"`

	PlatformHidden   bool `json:"platformHidden" groups:"status"`
	Suppressed       bool `json:"suppressed" groups:"status"`
	PassengerService bool `json:"passengerService" groups:"status"`

	version int64
	static  bool
}

// callingPointsInfo holds the derived route strings for a slot. It is
// rebuilt from the retained snapshot whenever the slot goes stale.
type callingPointsInfo struct {
	points        string
	pointsWithETD string
	location      string

	version int64
	static  bool
}

// ReasonCode maps a numeric feed reason onto its two display texts.
type ReasonCode struct {
	Code         int    `json:"code"`
	DelayReason  string `json:"lateReason"`
	CancelReason string `json:"cancReason"`
}
