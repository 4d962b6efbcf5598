package federation

import "encoding/json"

func decodeJSON(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
