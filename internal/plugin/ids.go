package plugin

// ID uniquely identifies a backend plugin.
type ID string

const (
	GPTGGMLCUDA     ID = "nvigi.plugin.gpt.ggml.cuda"
	GPTCloudREST    ID = "nvigi.plugin.gpt.cloud.rest"
	GPTOnnxGenAIDML ID = "nvigi.plugin.gpt.onnxgenai.dml"
	ASRGGMLCUDA     ID = "nvigi.plugin.asr.ggml.cuda"
	ASRGGMLCPU      ID = "nvigi.plugin.asr.ggml.cpu"
	HardwareInterop ID = "nvigi.plugin.hwi.cuda"
)

func (id ID) String() string {
	if id == "" {
		return "unknown"
	}
	return string(id)
}
