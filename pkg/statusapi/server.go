// Package statusapi serves a small HTTP surface next to the matrix:
// a liveness probe, a JSON view of what the board is showing, and the
// Prometheus metrics.
package statusapi

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/railboard/railboard/pkg/servicecache"
)

// Server wraps the fiber app so the board can start and stop it
// without caring about routing.
type Server struct {
	app   *fiber.App
	cache *servicecache.Cache

	// renderState reports the scheduler's state from the render
	// goroutine's side, supplied by the orchestrator.
	renderState func() string
}

type overview struct {
	LocationName   string `json:"locationName" groups:"status"`
	NetworkMessage string `json:"networkMessage,omitempty" groups:"status"`
	Version        int64  `json:"version" groups:"status"`
	NumServices    int    `json:"numServices" groups:"status"`

	Platform         string `json:"platform,omitempty" groups:"status"`
	PlatformFiltered bool   `json:"platformFiltered" groups:"status"`

	RenderState string `json:"renderState,omitempty" groups:"status"`

	Departures []departureView `json:"departures" groups:"status"`
}

type departureView struct {
	Ordinal int  `json:"ordinal" groups:"status"`
	Empty   bool `json:"empty" groups:"status"`

	Platform      string                      `json:"platform,omitempty" groups:"status"`
	Service       servicecache.BasicInfo      `json:"service" groups:"status"`
	Detail        servicecache.AdditionalInfo `json:"detail" groups:"status"`
	CallingPoints string                      `json:"callingPoints,omitempty" groups:"status"`
	Location      string                      `json:"location,omitempty" groups:"status"`
}

func NewServer(cache *servicecache.Cache, renderState func() string) *Server {
	s := &Server{
		app:         fiber.New(fiber.Config{DisableStartupMessage: true}),
		cache:       cache,
		renderState: renderState,
	}

	s.app.Use(NewLogger())
	s.app.Get("/healthz", s.health)
	s.app.Get("/status", s.status)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return s
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func (s *Server) status(c *fiber.Ctx) error {
	platform, filtered := s.cache.SelectedPlatform()

	view := overview{
		LocationName:     s.cache.LocationName(),
		NetworkMessage:   s.cache.NetworkMessage(),
		Version:          s.cache.Version(),
		NumServices:      s.cache.NumServices(),
		Platform:         platform,
		PlatformFiltered: filtered,
		Departures:       make([]departureView, 0, servicecache.DepartureSlots),
	}
	if s.renderState != nil {
		view.RenderState = s.renderState()
	}

	for ordinal := 1; ordinal <= servicecache.DepartureSlots; ordinal++ {
		slot, trainID, err := s.cache.Departure(ordinal)
		if err != nil {
			return statusError(c, err)
		}
		entry := departureView{Ordinal: ordinal, Empty: slot == servicecache.NoService}
		if !entry.Empty {
			if entry.Service, err = s.cache.BasicInfo(slot, trainID); err != nil {
				return statusError(c, err)
			}
			if entry.Detail, err = s.cache.AdditionalInfo(slot, trainID); err != nil {
				return statusError(c, err)
			}
			if entry.Platform, err = s.cache.Platform(slot, trainID); err != nil {
				return statusError(c, err)
			}
			if entry.CallingPoints, err = s.cache.CallingPoints(slot, trainID, false); err != nil {
				return statusError(c, err)
			}
			if entry.Location, err = s.cache.ServiceLocation(slot, trainID); err != nil {
				return statusError(c, err)
			}
		}
		view.Departures = append(view.Departures, entry)
	}

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"status"},
	}, view)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "could not reduce board status",
		})
	}

	return c.JSON(reduced)
}

func statusError(c *fiber.Ctx, err error) error {
	c.SendStatus(fiber.StatusInternalServerError)
	return c.JSON(fiber.Map{
		"error": err.Error(),
	})
}
