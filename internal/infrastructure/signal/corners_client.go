package signal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"rangeview/internal/core/domain"
)

type cornersResponse struct {
	Corners [][]float64 `json:"corners"`
}

// FetchCorners polls the legacy geometry endpoint. Corners are returned in
// a frame of the requested width and height. Only the response shape is
// checked; a polygon that fails Validate is returned as is so the overlay
// can clear its boundary.
func (c *Client) FetchCorners(ctx context.Context, cameraID domain.CameraID, width, height int) (domain.SourceGeometry, error) {
	q := url.Values{}
	q.Set("tw", strconv.Itoa(width))
	q.Set("th", strconv.Itoa(height))

	var resp cornersResponse
	if _, err := c.get(ctx, cameraID, "/target/target-corners?"+q.Encode(), &resp); err != nil {
		return domain.SourceGeometry{}, fmt.Errorf("fetch target corners: %w", err)
	}

	g := domain.SourceGeometry{
		Points: make([]domain.Point, 0, len(resp.Corners)),
		Frame:  domain.Size{Width: float64(width), Height: float64(height)},
	}
	for i, corner := range resp.Corners {
		if len(corner) != 2 {
			return domain.SourceGeometry{}, fmt.Errorf("%w: corner %d has %d values", domain.ErrInvalidGeometry, i, len(corner))
		}
		g.Points = append(g.Points, domain.Point{X: corner[0], Y: corner[1]})
	}
	return g, nil
}
