// README: HTTP surface of the sim server (gin). Paths mirror the client's
// api package one for one.
package simserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripsync/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeTripError(c *gin.Context, err error) {
	switch err {
	case ErrBadRequest:
		writeError(c, http.StatusBadRequest, err.Error())
	case ErrNotFound:
		writeError(c, http.StatusNotFound, err.Error())
	case ErrInvalidState:
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// Router builds the gin handler for a coordinator.
func Router(coord *Coordinator) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/trips", func(c *gin.Context) {
		var req struct {
			PassengerID string `json:"passenger_id"`
			Pickup      struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"pickup"`
			Dropoff struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"dropoff"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := coord.Request(c.Request.Context(),
			types.ID(req.PassengerID),
			types.Point{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng},
			types.Point{Lat: req.Dropoff.Lat, Lng: req.Dropoff.Lng},
		)
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	r.GET("/api/trips/:id", func(c *gin.Context) {
		rec, err := coord.Get(c.Request.Context(), types.ID(c.Param("id")))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/accept", func(c *gin.Context) {
		var req struct {
			DriverID string `json:"driver_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := coord.Accept(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.DriverID))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/reject", func(c *gin.Context) {
		var req struct {
			DriverID string `json:"driver_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		if err := coord.Reject(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.DriverID)); err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	})

	r.POST("/api/trips/:id/cancel", func(c *gin.Context) {
		var req struct {
			By     string `json:"by"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := coord.Cancel(c.Request.Context(), types.ID(c.Param("id")), types.Role(req.By), req.Reason)
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/arrived", func(c *gin.Context) {
		rec, err := coord.Arrive(c.Request.Context(), types.ID(c.Param("id")))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/dropoff", func(c *gin.Context) {
		rec, err := coord.Dropoff(c.Request.Context(), types.ID(c.Param("id")))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/start", func(c *gin.Context) {
		var req struct {
			By string `json:"by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := coord.Start(c.Request.Context(), types.ID(c.Param("id")), types.Role(req.By))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/api/trips/:id/complete", func(c *gin.Context) {
		var req struct {
			By string `json:"by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := coord.Complete(c.Request.Context(), types.ID(c.Param("id")), types.Role(req.By))
		if err != nil {
			writeTripError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
