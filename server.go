package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MLZ101/RAG-Document-Chat/docstore"
	"github.com/MLZ101/RAG-Document-Chat/ingest"
)

type ragService interface {
	Query(ctx context.Context, text string, topK int, documentID string) ([]docstore.SearchResult, error)
	ListDocuments(ctx context.Context) ([]docstore.DocumentInfo, error)
	Delete(ctx context.Context, documentID string) error
	SubmitFile(ctx context.Context, path string) (string, error)
	Status(documentID string) (ingest.Status, bool)
	Statuses() []ingest.Status
}

type ragHandlers struct {
	svc ragService
	log *slog.Logger
}

func NewRagServer(svc ragService, logger *slog.Logger) *server.MCPServer {
	h := &ragHandlers{svc: svc, log: logger.With("component", "mcp")}

	srv := server.NewMCPServer("RAG", "0.1.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search the ingested documents and return the most similar chunks for RAG"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of chunks to return"),
		),
		mcp.WithString("document_id",
			mcp.Description("Restrict the search to one document"),
		),
	), h.search)

	srv.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List ingested documents with their chunk counts"),
	), h.listDocuments)

	srv.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Remove a document and all of its chunks"),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("Id of the document to delete"),
		),
	), h.deleteDocument)

	srv.AddTool(mcp.NewTool("ingest_document",
		mcp.WithDescription("Queue a PDF or text file on the server for ingestion"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file on the server"),
		),
	), h.ingestDocument)

	srv.AddTool(mcp.NewTool("ingestion_status",
		mcp.WithDescription("Report the state of queued and finished ingestions"),
		mcp.WithString("document_id",
			mcp.Description("Document to report on; all when empty"),
		),
	), h.ingestionStatus)

	return srv
}

type searchHit struct {
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
}

func (h *ragHandlers) search(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(q) == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}

	res, err := h.svc.Query(ctx, q, request.GetInt("top_k", 0), request.GetString("document_id", ""))
	if err != nil {
		h.log.Error("search failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response strings.Builder
	for _, r := range res {
		raw, err := json.Marshal(searchHit{
			Score:      r.Score,
			DocumentID: r.Metadata.DocumentID,
			Filename:   r.Metadata.Filename,
			ChunkIndex: r.Metadata.ChunkIndex,
			Text:       r.Text,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		fmt.Fprintf(&response, "%s\n", raw)
	}

	return mcp.NewToolResultText(response.String()), nil
}

func (h *ragHandlers) listDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := h.svc.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(docs)
}

func (h *ragHandlers) deleteDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := h.svc.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("document %s deleted", id)), nil
}

func (h *ragHandlers) ingestDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := h.svc.SubmitFile(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(struct {
		DocumentID string `json:"document_id"`
	}{DocumentID: id})
}

func (h *ragHandlers) ingestionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("document_id", "")
	if id == "" {
		return jsonResult(h.svc.Statuses())
	}

	st, ok := h.svc.Status(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no ingestion known for document %s", id)), nil
	}

	return jsonResult(st)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(raw)), nil
}
