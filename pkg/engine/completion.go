package engine

import "fmt"

// CompletionCode код завершения сессии движка
type CompletionCode int

const (
	CodeOK CompletionCode = iota
	CodeCEDTone
	CodeT0Expired
	CodeT1Expired
	CodeT3Expired
	CodeHDLCCarrier
	CodeCannotTrain
	CodeOperatorInterrupt
	CodeIncompatible
	CodeRxIncapable
	CodeTxIncapable
	CodeNoResolutionSupport
	CodeNoSizeSupport
	CodeUnexpected
	CodeTxBadDCS
	CodeTxBadPage
	CodeTxGotDCN
	CodeTxNoDIS
	CodeTxT5Expired
	CodeRxNoCarrier
	CodeRxNoFax
	CodeRxT2ExpiredDCN
	CodeFileError
	CodeNoPage
	CodeBadTIFF
	CodeCallDropped
)

var codeNames = map[CompletionCode]string{
	CodeOK:                  "OK",
	CodeCEDTone:             "The CED tone exceeded 5s",
	CodeT0Expired:           "Timed out waiting for initial communication",
	CodeT1Expired:           "Timed out waiting for the first message",
	CodeT3Expired:           "Timed out waiting for procedural interrupt",
	CodeHDLCCarrier:         "The HDLC carrier did not stop in a timely manner",
	CodeCannotTrain:         "Failed to train with any of the compatible modems",
	CodeOperatorInterrupt:   "Operator intervention failed",
	CodeIncompatible:        "Far end is not compatible",
	CodeRxIncapable:         "Far end is not able to receive",
	CodeTxIncapable:         "Far end is not able to transmit",
	CodeNoResolutionSupport: "Far end cannot receive at the resolution of the image",
	CodeNoSizeSupport:       "Far end cannot receive at the size of image",
	CodeUnexpected:          "Unexpected message received",
	CodeTxBadDCS:            "Received bad response to DCS or training",
	CodeTxBadPage:           "Received a DCN from remote after sending a page",
	CodeTxGotDCN:            "Received a DCN while waiting for a DIS",
	CodeTxNoDIS:             "Received other than DIS while waiting for DIS",
	CodeTxT5Expired:         "Timed out waiting for receiver ready (ECM mode)",
	CodeRxNoCarrier:         "Carrier lost during fax receive",
	CodeRxNoFax:             "Timed out while waiting for EOL (end of line)",
	CodeRxT2ExpiredDCN:      "Timer T2 expired while waiting for DCN",
	CodeFileError:           "TIFF/F file cannot be opened",
	CodeNoPage:              "TIFF/F page not found",
	CodeBadTIFF:             "TIFF/F format is not compatible",
	CodeCallDropped:         "The call dropped prematurely",
}

// String возвращает текстовое описание кода
func (c CompletionCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown completion code %d", int(c))
}

// Completion результат фазы E, передаваемый движком
type Completion struct {
	Code      CompletionCode
	PeerIdent string // Идентификатор удаленной станции (CSI/TSI)
}

// OK сообщает об успешном завершении
func (c Completion) OK() bool { return c.Code == CodeOK }
