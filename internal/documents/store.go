package documents

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"videokyc-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// FileStore serves identity documents from a directory through signed links.
type FileStore struct {
	root   string
	signer *Signer
}

func NewFileStore(root string, signer *Signer) *FileStore {
	return &FileStore{root: root, signer: signer}
}

// Serve handles GET /documents/:token.
func (s *FileStore) Serve(c *gin.Context) {
	objectPath, err := s.signer.Verify(c.Param("token"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "link expired or invalid"})
		return
	}
	if s.root == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}

	full := filepath.Join(s.root, filepath.FromSlash(objectPath))
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist), err == nil && info.IsDir():
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("document stat failed", "path", objectPath, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.File(full)
}
