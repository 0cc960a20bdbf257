package functions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = fmt.Errorf("request body exceeds %d bytes", maxBodySize)
)

// sonicSerializer replaces echo's encoding/json based serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := decodeBody(c, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

// decodeBody reads the whole body as a single JSON value into v. Empty
// bodies, trailing content and bodies over maxBodySize are errors.
func decodeBody(c echo.Context, v any) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBodySize {
		return errBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}
