package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/masking"
	"github.com/smartbi/analyst/pkg/models"
)

const testConnectionTimeout = 10 * time.Second

func (s *Server) listDatasources(c *gin.Context) {
	respond(c, masking.Datasources(s.deps.Datasources.List()), nil)
}

func (s *Server) getDatasource(c *gin.Context) {
	ds, err := s.deps.Datasources.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, masking.Datasource(ds), nil)
}

func (s *Server) putDatasource(c *gin.Context) {
	var ds models.Datasource
	if err := c.ShouldBindJSON(&ds); err != nil {
		badRequest(c, "invalid datasource: %v", err)
		return
	}
	saved, err := s.deps.Datasources.Put(ds)
	if err != nil {
		fail(c, err)
		return
	}
	s.invalidateDatasource(saved.ID)
	respond(c, masking.Datasource(saved), nil)
}

func (s *Server) updateDatasource(c *gin.Context) {
	var ds models.Datasource
	if err := c.ShouldBindJSON(&ds); err != nil {
		badRequest(c, "invalid datasource: %v", err)
		return
	}
	ds.ID = c.Param("id")
	if _, err := s.deps.Datasources.Get(ds.ID); err != nil {
		fail(c, err)
		return
	}
	saved, err := s.deps.Datasources.Put(ds)
	if err != nil {
		fail(c, err)
		return
	}
	s.invalidateDatasource(saved.ID)
	respond(c, masking.Datasource(saved), nil)
}

func (s *Server) deleteDatasource(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Datasources.Delete(id); err != nil {
		fail(c, err)
		return
	}
	s.invalidateDatasource(id)
	respond(c, gin.H{"deleted": id}, nil)
}

// invalidateDatasource drops pooled connections and cached schema after
// a datasource definition changed.
func (s *Server) invalidateDatasource(id string) {
	if s.deps.Pool != nil {
		s.deps.Pool.Invalidate(id)
	}
	if s.deps.Schema != nil {
		s.deps.Schema.Invalidate()
	}
}

type testConnectionRequest struct {
	Type           models.DatasourceType `json:"type" binding:"required"`
	ConnectionInfo map[string]any        `json:"connection_info" binding:"required"`
}

type testConnectionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms"`
}

// testConnection probes candidate connection settings without
// registering a datasource. A failed probe is a successful operation
// reporting success=false.
func (s *Server) testConnection(c *gin.Context) {
	var req testConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid connection test request: %v", err)
		return
	}

	ds := models.Datasource{Type: req.Type, Connection: req.ConnectionInfo}
	adapter, err := dbadapter.New(&ds)
	if err != nil {
		fail(c, err)
		return
	}

	ctx, cancel := contextWithTimeout(c, testConnectionTimeout)
	defer cancel()

	start := time.Now()
	if err := adapter.Connect(ctx); err != nil {
		respond(c, testConnectionResult{Success: false, Message: err.Error()}, nil)
		return
	}
	err = adapter.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	_ = adapter.Disconnect(ctx)

	if err != nil {
		respond(c, testConnectionResult{Success: false, Message: err.Error(), LatencyMS: latency}, nil)
		return
	}
	respond(c, testConnectionResult{Success: true, Message: "connection ok", LatencyMS: latency}, nil)
}

func (s *Server) getSchema(c *gin.Context) {
	ds, err := s.deps.Datasources.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	schema, err := s.deps.Schema.Descriptor(c.Request.Context(), &ds, c.Query("question"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, schema, nil)
}

type executeQueryRequest struct {
	DatasourceID string `json:"datasource_id"`
	SQL          string `json:"sql" binding:"required"`
	TimeoutMS    int64  `json:"timeout_ms"`
	MaxRows      int    `json:"max_rows"`
}

// executeQuery runs one read-only statement on a pooled connection.
func (s *Server) executeQuery(c *gin.Context) {
	var req executeQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid query request: %v", err)
		return
	}
	if err := agent.CheckSQL(req.SQL, true); err != nil {
		fail(c, err)
		return
	}

	ds, err := s.resolveDatasource(req.DatasourceID)
	if err != nil {
		fail(c, err)
		return
	}

	lease, err := s.deps.Pool.Acquire(c.Request.Context(), &ds)
	if err != nil {
		fail(c, err)
		return
	}
	start := time.Now()
	res, err := lease.Adapter().Execute(c.Request.Context(), req.SQL, dbadapter.ExecOptions{
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		MaxRows: req.MaxRows,
	})
	if err != nil {
		if enginerr.Is(err, enginerr.KindDBTransient) {
			lease.Discard()
		} else {
			lease.Release()
		}
		s.recordQuery(ds.ID, req.SQL, start, nil, err)
		fail(c, err)
		return
	}
	lease.Release()

	s.recordQuery(ds.ID, req.SQL, start, res, nil)
	s.deps.Datasources.TouchLastUsed(ds.ID)
	respond(c, res, nil)
}

func (s *Server) listQueries(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	respond(c, s.deps.Queries.Recent(limit), nil)
}

func (s *Server) resolveDatasource(id string) (models.Datasource, error) {
	if id != "" {
		return s.deps.Datasources.Get(id)
	}
	ds, err := s.deps.Datasources.Default()
	if err != nil {
		return models.Datasource{}, enginerr.New(enginerr.KindValidation,
			"no datasource specified and no default configured")
	}
	return ds, nil
}

func (s *Server) recordQuery(dsID, sqlText string, start time.Time, res *models.QueryResult, execErr error) {
	if s.deps.Queries == nil {
		return
	}
	rec := models.QueryRecord{
		ID:           newRecordID(),
		DatasourceID: dsID,
		SQL:          sqlText,
		ExecutedAt:   start.UTC(),
		DurationMS:   time.Since(start).Milliseconds(),
		Status:       models.QuerySuccess,
	}
	if res != nil {
		rec.RowCount = res.RowCount
	}
	if execErr != nil {
		rec.Status = models.QueryError
		rec.Error = execErr.Error()
	}
	s.deps.Queries.Append(rec)
}
