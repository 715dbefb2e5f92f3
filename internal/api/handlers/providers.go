package handlers

import (
	"fmt"
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/dnsd/internal/api/models"
)

// Providers lists every provider currently registered, in registration
// order, along with the zones it claims and the zones of any filters
// attached to it.
func (h *Handler) Providers(c *gin.Context) {
	resp := models.ProvidersResponse{Providers: []models.ProviderInfo{}}

	if h.registryFunc == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	reg := h.registryFunc()
	if reg == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	for _, p := range reg.Providers() {
		pZones := p.Zones(netip.Addr{})
		zones := make([]string, 0, len(pZones))
		for _, z := range pZones {
			zones = append(zones, z.String())
		}
		filterZones := make([]string, 0, len(p.Filters()))
		for _, f := range p.Filters() {
			filterZones = append(filterZones, f.Zone().String())
		}
		resp.Providers = append(resp.Providers, models.ProviderInfo{
			Kind:        kindOf(p),
			Zones:       zones,
			FilterZones: filterZones,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func kindOf(v any) string {
	return fmt.Sprintf("%T", v)
}
