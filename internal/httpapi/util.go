package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// maxBodyBytes 请求体上限（老人/联系人/签到/分享请求都很小）
const maxBodyBytes = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeXLSX 以附件形式返回 Excel 文件
func writeXLSX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// queryLimit ?limit= 缺省、非法或 <= 0 都表示全部
func queryLimit(r *http.Request) int {
	limit := parseInt(r.URL.Query().Get("limit"), 0)
	if limit < 0 {
		return 0
	}
	return limit
}

// readBodyJSON 空请求体视为 {}；超过 maxBytes 返回 errBodyTooLarge
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > maxBytes {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// decodeBody 解析请求体；失败时已写入错误响应并返回 false
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	err := readBodyJSON(r, maxBodyBytes, out)
	if err == nil {
		return true
	}
	if errors.Is(err, errBodyTooLarge) {
		writeJSON(w, http.StatusOK, Fail(errBodyTooLarge.Error()))
		return false
	}
	writeJSON(w, http.StatusOK, Fail(msgInvalidBody))
	return false
}
