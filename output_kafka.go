package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/buger/logreplay/fetch"
	"go.uber.org/zap"
)

// KafkaConfig should contains required information to
// build producers.
type KafkaConfig struct {
	Host  string `yaml:"host" env:"HOST"`
	Topic string `yaml:"topic" env:"TOPIC"`

	producer sarama.AsyncProducer
}

// KafkaOutput publishes every replay outcome to a topic, keyed by run id.
type KafkaOutput struct {
	config   *KafkaConfig
	runID    string
	producer sarama.AsyncProducer
	log      *zap.SugaredLogger
	done     chan struct{}
}

// KafkaMessage is the JSON document sent for each outcome.
type KafkaMessage struct {
	RunID        string    `json:"Run_ID"`
	Slot         int       `json:"Slot"`
	URL          string    `json:"Req_URL"`
	Success      bool      `json:"Success"`
	EffectiveURL string    `json:"Effective_URL,omitempty"`
	ErrorCode    int       `json:"Error_Code,omitempty"`
	ErrorMessage string    `json:"Error_Message,omitempty"`
	Bytes        int64     `json:"Resp_Bytes"`
	LatencyMs    int64     `json:"Latency_Ms"`
	Started      time.Time `json:"Started"`
}

// KafkaOutputFrequency in milliseconds
const KafkaOutputFrequency = 500

// NewKafkaOutput creates instance of kafka producer client.
func NewKafkaOutput(runID string, config *KafkaConfig, log *zap.SugaredLogger) (*KafkaOutput, error) {
	producer := config.producer
	if producer == nil {
		c := sarama.NewConfig()
		c.Producer.RequiredAcks = sarama.WaitForLocal
		c.Producer.Compression = sarama.CompressionSnappy
		c.Producer.Flush.Frequency = KafkaOutputFrequency * time.Millisecond

		brokerList := strings.Split(config.Host, ",")

		var err error
		producer, err = sarama.NewAsyncProducer(brokerList, c)
		if err != nil {
			return nil, err
		}
	}

	o := &KafkaOutput{
		config:   config,
		runID:    runID,
		producer: producer,
		log:      log,
		done:     make(chan struct{}),
	}

	go o.ErrorHandler()

	return o, nil
}

// ErrorHandler drains producer errors until the producer is closed.
func (o *KafkaOutput) ErrorHandler() {
	defer close(o.done)

	for err := range o.producer.Errors() {
		o.log.Warnf("Failed to publish outcome to kafka: %v", err)
	}
}

func (o *KafkaOutput) Analyze(out fetch.Outcome) {
	msg := KafkaMessage{
		RunID:        o.runID,
		Slot:         out.Slot,
		URL:          out.URL,
		Success:      out.Success,
		EffectiveURL: out.EffectiveURL,
		ErrorCode:    out.ErrorCode,
		ErrorMessage: out.ErrorMessage,
		Bytes:        out.BytesReceived,
		LatencyMs:    out.Latency().Milliseconds(),
		Started:      out.Started,
	}
	jsonMessage, _ := json.Marshal(&msg)

	o.producer.Input() <- &sarama.ProducerMessage{
		Topic: o.config.Topic,
		Key:   sarama.StringEncoder(o.runID),
		Value: sarama.ByteEncoder(jsonMessage),
	}
}

// Close flushes buffered messages.
func (o *KafkaOutput) Close() error {
	err := o.producer.Close()
	<-o.done
	return err
}

func (o *KafkaOutput) String() string {
	return "Kafka output: " + o.config.Host + "/" + o.config.Topic
}
