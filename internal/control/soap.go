package control

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/wyatt727/upnp-cli/internal/upnpxml"
)

// Arg is one SOAP action argument. Order matters: arguments are encoded
// in SCPD declaration order.
type Arg struct {
	Name  string
	Value string
}

// soapActionHeader builds the SOAPACTION header value.
func soapActionHeader(serviceType, action string) string {
	return fmt.Sprintf("%q", serviceType+"#"+action)
}

// buildEnvelope constructs a SOAP 1.1 envelope for a UPnP action with
// the arguments as ordered direct children of the action element.
func buildEnvelope(serviceType, action string, args []Arg) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" ` +
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString("<s:Body>")
	fmt.Fprintf(&buf, `<u:%s xmlns:u="%s">`, action, serviceType)
	for _, a := range args {
		buf.WriteString("<" + a.Name + ">")
		xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteString("</" + a.Name + ">")
	}
	fmt.Fprintf(&buf, "</u:%s>", action)
	buf.WriteString("</s:Body>")
	buf.WriteString("</s:Envelope>")
	return buf.Bytes()
}

// parseSoapResponse extracts the named output arguments from an action
// response, or a structured *Error when the body is a SOAP fault.
func parseSoapResponse(action string, body []byte) (map[string]string, *Error) {
	root, err := upnpxml.Parse(body)
	if err != nil {
		return nil, &Error{Kind: KindMalformedXML, Detail: err.Error(), wrapped: err}
	}

	soapBody := root.First("Body")
	if soapBody == nil {
		soapBody = root.FindDeep("Body")
	}
	if soapBody == nil {
		return nil, &Error{Kind: KindMalformedXML, Detail: "no SOAP body"}
	}

	if fault := soapBody.First("Fault"); fault != nil {
		return nil, parseFault(fault)
	}

	outputs := make(map[string]string)
	resp := soapBody.First(action + "Response")
	if resp == nil {
		// Some stacks answer with the bare action name or a single
		// wrapper element; take the first child as the response.
		if len(soapBody.Children) > 0 {
			resp = soapBody.Children[0]
		}
	}
	if resp != nil {
		for _, c := range resp.Children {
			outputs[c.Name] = c.Text
		}
	}
	return outputs, nil
}

// parseFault reads faultcode/faultstring and the nested UPnP error.
func parseFault(fault *upnpxml.Elem) *Error {
	e := &Error{
		Kind:        KindSoapFault,
		FaultCode:   fault.TextOf("faultcode"),
		FaultString: fault.TextOf("faultstring"),
	}
	if upnpErr := fault.FindDeep("UPnPError"); upnpErr != nil {
		e.UPnPCode = atoiSafe(upnpErr.TextOf("errorCode"))
		if desc := upnpErr.TextOf("errorDescription"); desc != "" {
			e.Detail = desc
		} else if e.UPnPCode != 0 {
			e.Detail = UPnPErrorDescription(e.UPnPCode)
		}
	}
	return e
}
