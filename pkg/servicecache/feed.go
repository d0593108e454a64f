package servicecache

import (
	"time"
)

// Wire types for the departures feed snapshot. Only the fields the
// board consumes are modelled; the rest of the payload is ignored by
// encoding/json.

type feedBoard struct {
	LocationName  string        `json:"locationName"`
	NRCCMessages  []feedMessage `json:"nrccMessages"`
	TrainServices []feedService `json:"trainServices"`
}

type feedMessage struct {
	XHTMLMessage string `json:"xhtmlMessage"`
}

type feedService struct {
	TrainID string `json:"trainid"`

	STDSpecified bool   `json:"stdSpecified"`
	STD          string `json:"std"`
	ETDSpecified bool   `json:"etdSpecified"`
	ETD          string `json:"etd"`

	Platform      string `json:"platform"`
	Operator      string `json:"operator"`
	Length        int    `json:"length"`
	DepartureType string `json:"departureType"`

	IsCancelled        bool          `json:"isCancelled"`
	CancelReason       feedReasonRef `json:"cancelReason"`
	DelayReason        feedReasonRef `json:"delayReason"`
	AdhocAlerts        string        `json:"adhocAlerts"`
	ServiceIsSupressed bool          `json:"serviceIsSupressed"`
	IsPassengerService bool          `json:"isPassengerService"`
	PlatformIsHidden   bool          `json:"platformIsHidden"`

	Origin      []feedLocationName `json:"origin"`
	Destination []feedLocationName `json:"destination"`

	Formation feedFormation `json:"formation"`

	SubsequentLocations []feedCallingPoint `json:"subsequentLocations"`
	PreviousLocations   []feedCallingPoint `json:"previousLocations"`
}

type feedReasonRef struct {
	Value int `json:"Value"`
}

type feedLocationName struct {
	LocationName string `json:"locationName"`
}

type feedFormation struct {
	ServiceLoading feedServiceLoading `json:"serviceLoading"`
}

type feedServiceLoading struct {
	LoadingPercentage feedLoadingPercentage `json:"loadingPercentage"`
}

type feedLoadingPercentage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type feedCallingPoint struct {
	LocationName string `json:"locationName"`
	IsPass       bool   `json:"isPass"`
	IsCancelled  bool   `json:"isCancelled"`

	ArrivalType string `json:"arrivalType"`

	ATASpecified bool   `json:"ataSpecified"`
	ATA          string `json:"ata"`
	ETASpecified bool   `json:"etaSpecified"`
	ETA          string `json:"eta"`
	STASpecified bool   `json:"staSpecified"`
	STA          string `json:"sta"`

	ATDSpecified bool   `json:"atdSpecified"`
	ATD          string `json:"atd"`
	ETDSpecified bool   `json:"etdSpecified"`
	ETD          string `json:"etd"`
	STDSpecified bool   `json:"stdSpecified"`
	STD          string `json:"std"`
}

type feedReasonCode struct {
	Code       int    `json:"code"`
	LateReason string `json:"lateReason"`
	CancReason string `json:"cancReason"`
}

const feedTimeLayout = "2006-01-02T15:04:05"

// parseFeedTime parses the feed's timestamp format, tolerating an
// RFC3339 offset suffix when present.
func parseFeedTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(feedTimeLayout, value, time.Local); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// feedTimeHHMM extracts the HH:MM display form from a feed timestamp.
func feedTimeHHMM(value string) string {
	if len(value) < 16 {
		return ""
	}
	return value[11:16]
}
