package server

import (
	"net/http"

	"github.com/duynguyendang/sq8/pkg/codec"
	"github.com/duynguyendang/sq8/pkg/store"
	"github.com/gin-gonic/gin"
)

type putBlobRequest struct {
	Name string `json:"name"`
	// Exactly one of Samples or Buffer is expected. Buffer takes precedence.
	Samples []float32 `json:"samples"`
	Buffer  []byte    `json:"buffer"`
}

// handleListDatasets returns a list of available datasets.
func (s *Server) handleListDatasets(c *gin.Context) {
	datasets, err := s.manager.ListDatasets()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, datasets)
}

// handleCreateDataset creates an empty dataset. The body is optional.
func (s *Server) handleCreateDataset(c *gin.Context) {
	var req struct {
		Description string `json:"description"`
	}
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req, jsonEnvelopeBytes); err != nil {
			handleError(c, err)
			return
		}
	}

	info, err := s.manager.CreateDataset(c.Param("dataset"), req.Description)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// handleListBlobs returns the metadata of every blob in a dataset.
func (s *Server) handleListBlobs(c *gin.Context) {
	st, err := s.manager.GetStore(c.Param("dataset"))
	if err != nil {
		handleError(c, err)
		return
	}
	blobs, err := st.List()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, blobs)
}

// handlePutBlob stores either raw samples (encoded server side) or an
// already encoded buffer.
func (s *Server) handlePutBlob(c *gin.Context) {
	var req putBlobRequest
	if err := bindJSON(c, &req, max(s.samplesBodyLimit(), s.bufferBodyLimit())); err != nil {
		handleError(c, err)
		return
	}

	st, err := s.manager.GetStore(c.Param("dataset"))
	if err != nil {
		handleError(c, err)
		return
	}

	var meta store.Meta
	if len(req.Buffer) > 0 {
		if err := s.checkSamples(len(req.Buffer) - codec.HeaderSize); err != nil {
			handleError(c, err)
			return
		}
		meta, err = st.Put(req.Name, req.Buffer)
	} else {
		if err := s.checkSamples(len(req.Samples)); err != nil {
			handleError(c, err)
			return
		}
		meta, err = st.PutSamples(req.Name, req.Samples)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// handleGetBlob returns the encoded buffer as stored.
func (s *Server) handleGetBlob(c *gin.Context) {
	st, err := s.manager.GetStore(c.Param("dataset"))
	if err != nil {
		handleError(c, err)
		return
	}
	buf, err := st.Get(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.Data(http.StatusOK, octetStream, buf)
}

// handleGetSamples returns the decoded samples of a blob.
func (s *Server) handleGetSamples(c *gin.Context) {
	frame, err := s.manager.GetFrame(c.Param("dataset"), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, decodeResponse{Frame: frame, Count: len(frame.Samples)})
}

func (s *Server) handleDeleteBlob(c *gin.Context) {
	if err := s.manager.DeleteBlob(c.Param("dataset"), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
