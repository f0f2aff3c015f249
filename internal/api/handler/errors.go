package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api/response"
	"github.com/oceanfeed/oceanfeed/internal/catalog"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/provider/resilience"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
)

// writeError maps domain errors to problems. Configuration errors are the caller's
// fault (400); absent data and unknown stations are 404; a feed that does not match
// its descriptors or a failing sensor service is 502; an open circuit is 503.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, sensor.ErrNoData):
		response.NoData(w, r, err.Error())
	case errors.Is(err, axds.ErrStationNotFound),
		errors.Is(err, framestore.ErrSnapshotNotFound),
		errors.Is(err, catalog.ErrNoParameterMatch):
		response.NotFound(w, r, err.Error())
	case sensor.IsConfigError(err), isCatalogConfigError(err):
		response.BadRequest(w, r, err.Error(), nil)
	case sensor.IsDataShapeError(err):
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("sensor feed rejected")
		response.UpstreamError(w, r, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "sensor service is temporarily unavailable")
	case errors.Is(err, context.Canceled):
		logger.Debug().Str("path", r.URL.Path).Msg("request canceled by client")
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("sensor service request failed")
		response.UpstreamError(w, r, "sensor service request failed")
	}
}

func isCatalogConfigError(err error) bool {
	return errors.Is(err, catalog.ErrPartialBounds) ||
		errors.Is(err, catalog.ErrPartialTimeRange) ||
		errors.Is(err, catalog.ErrLongitudeRange) ||
		errors.Is(err, catalog.ErrGriddedDataframe) ||
		errors.Is(err, catalog.ErrUnknownOutType) ||
		errors.Is(err, catalog.ErrInvalidPageSize)
}
