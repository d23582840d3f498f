package admin

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avapiclient/internal/mock"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
)

// MockState is the body of GET and PUT /mock.
type MockState struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ServiceView describes one registered service.
type ServiceView struct {
	Name      string         `json:"name"`
	Protocols []ProtocolView `json:"protocols"`
}

// ProtocolView describes one mounted protocol.
type ProtocolView struct {
	Name        string       `json:"name"`
	Initialized bool         `json:"initialized"`
	Chain       []PluginView `json:"chain"`
	Registered  []PluginView `json:"registered,omitempty"`
}

// PluginView describes one plugin.
type PluginView struct {
	Name   string `json:"name"`
	Mock   bool   `json:"mock"`
	Active bool   `json:"active"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) routes() {
	s.engine.GET("/mock", s.getMock)
	s.engine.PUT("/mock", s.putMock)
	s.engine.GET("/services", s.listServices)
	s.engine.GET("/services/:name", s.getService)

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	if s.deps.Health != nil {
		s.deps.Health.RegisterRoutes(s.engine)
	}
}

func (s *Server) getMock(c *gin.Context) {
	enabled := s.deps.Mock.Enabled()
	c.JSON(http.StatusOK, MockState{Enabled: &enabled})
}

// putMock emits the toggle on the bus and reports the state after the sweep.
func (s *Server) putMock(c *gin.Context) {
	var req MockState
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := mock.Emit(c.Request.Context(), s.deps.Bus, *req.Enabled); err != nil {
		s.logger.Error("mock toggle failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	enabled := s.deps.Mock.Enabled()
	c.JSON(http.StatusOK, MockState{Enabled: &enabled})
}

func (s *Server) listServices(c *gin.Context) {
	services := s.deps.Services.All()
	views := make([]ServiceView, 0, len(services))
	for _, svc := range services {
		views = append(views, describeService(svc.Name(), svc.Protocols(), svc.Plugins()))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	c.JSON(http.StatusOK, views)
}

func (s *Server) getService(c *gin.Context) {
	svc, ok := s.deps.Services.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "service not found"})
		return
	}
	c.JSON(http.StatusOK, describeService(svc.Name(), svc.Protocols(), svc.Plugins()))
}

func describeService(
	name string,
	protocols []protocol.Protocol,
	registered map[protocol.Protocol][]plugin.Plugin,
) ServiceView {
	view := ServiceView{Name: name, Protocols: make([]ProtocolView, 0, len(protocols))}
	for _, p := range protocols {
		active := p.Plugins()
		pv := ProtocolView{Name: p.Name(), Initialized: p.Initialized()}
		for _, pl := range p.PluginsInOrder() {
			pv.Chain = append(pv.Chain, PluginView{Name: plugin.Name(pl), Mock: plugin.IsMock(pl), Active: true})
		}
		for _, pl := range registered[p] {
			pv.Registered = append(pv.Registered, PluginView{
				Name:   plugin.Name(pl),
				Mock:   plugin.IsMock(pl),
				Active: active.Has(pl),
			})
		}
		view.Protocols = append(view.Protocols, pv)
	}
	return view
}
