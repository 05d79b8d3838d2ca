package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/contacts"
	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/ledger"
)

// maxDocumentBytes caps request bodies on the protected routes. DID documents
// are small; anything larger is noise.
const maxDocumentBytes = 1 << 16

// Handler exposes the responder's HTTP surface: the public DID document
// endpoints and the DIDWba-protected routes.
type Handler struct {
	auth     *Authenticator
	queue    *HostedDIDQueue
	ledger   *ledger.Ledger
	peers    *contacts.Directory
	document *did.Document
	logger   *zap.Logger
}

// NewHandler creates a Handler. ledger may be nil; the token stats route is
// skipped without it.
func NewHandler(auth *Authenticator, queue *HostedDIDQueue, led *ledger.Ledger, document *did.Document, logger *zap.Logger) *Handler {
	return &Handler{auth: auth, queue: queue, ledger: led, document: document, logger: logger}
}

// SetPeerDirectory enables the peers listing route. Call before Register.
func (h *Handler) SetPeerDirectory(dir *contacts.Directory) {
	h.peers = dir
}

// Register mounts all routes on the engine. Published hosted-DID documents
// stay public: peers must be able to resolve them without credentials.
func (h *Handler) Register(r *gin.Engine) {
	r.GET(did.WellKnownPath, h.OwnDocument)
	// A DID with path segments publishes its document under those segments
	// instead of the well-known location; serve both so either resolves.
	if d, err := did.Parse(h.document.ID); err == nil && len(d.Segments) > 0 {
		if p := "/" + strings.Join(d.Segments, "/") + "/did.json"; p != did.WellKnownPath {
			r.GET(p, h.OwnDocument)
		}
	}
	r.GET("/healthz", h.Health)
	r.GET("/wba/hosted-did/:id/did.json", h.HostedDocument)

	protected := r.Group("/wba", h.auth.RequireAuth())
	{
		protected.GET("/whoami", h.WhoAmI)
		protected.POST("/echo", h.Echo)
		protected.POST("/hosted-did", h.SubmitHostedDID)
		protected.GET("/hosted-did/:id/result", h.HostedDIDResult)
		if h.ledger != nil {
			protected.GET("/tokens/stats", h.TokenStats)
		}
		if h.peers != nil {
			protected.GET("/peers", h.Peers)
		}
	}
}

// OwnDocument handles GET /.well-known/did.json — serves this responder's
// DID document.
func (h *Handler) OwnDocument(c *gin.Context) {
	c.JSON(http.StatusOK, h.document)
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "did": h.document.ID})
}

// WhoAmI handles GET /wba/whoami — echoes the authenticated caller identity.
func (h *Handler) WhoAmI(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"did":  CallerDIDFromCtx(c),
		"mode": AuthModeFromCtx(c),
	})
}

// Echo handles POST /wba/echo — returns the JSON body back to the caller,
// tagged with its DID. Exists so peers can exercise the handshake end to end.
func (h *Handler) Echo(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) == 0 {
		body = []byte("null")
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"did":  CallerDIDFromCtx(c),
		"echo": json.RawMessage(body),
	})
}

// SubmitHostedDID handles POST /wba/hosted-did — queues a DID document for
// publication under this responder's domain.
func (h *Handler) SubmitHostedDID(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	req, err := h.queue.Submit(body)
	if errors.Is(err, ErrBadSubmission) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("hosted DID submit", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue submission"})
		return
	}

	c.JSON(http.StatusAccepted, req)
}

// HostedDIDResult handles GET /wba/hosted-did/:id/result — reports the
// processing outcome for a submission.
func (h *Handler) HostedDIDResult(c *gin.Context) {
	result, err := h.queue.Result(c.Param("id"))
	if errors.Is(err, ErrHostedDIDNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
		return
	}
	if err != nil {
		h.logger.Error("hosted DID result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read result"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HostedDocument handles GET /wba/hosted-did/:id/did.json — serves a
// published hosted-DID document.
func (h *Handler) HostedDocument(c *gin.Context) {
	data, err := h.queue.Document(c.Param("id"))
	if errors.Is(err, ErrHostedDIDNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err != nil {
		h.logger.Error("hosted DID read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read document"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// Peers handles GET /wba/peers — lists every peer that has authenticated
// here, oldest first.
func (h *Handler) Peers(c *gin.Context) {
	list, err := h.peers.ListContacts(c.Request.Context())
	if err != nil {
		h.logger.Error("peer list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list peers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": list, "count": len(list)})
}

// TokenStats handles GET /wba/tokens/stats — counts this responder's ledger
// records per direction.
func (h *Handler) TokenStats(c *gin.Context) {
	stats, err := h.ledger.TokenStats(c.Request.Context())
	if err != nil {
		h.logger.Error("token stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
